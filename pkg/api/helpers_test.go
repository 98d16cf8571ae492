package api

import (
	"context"
	"sync"
	"testing"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/session"
)

type sendCall struct {
	number, message string
}

type fakeSession struct {
	mu     sync.Mutex
	calls  []sendCall
	err    error
	status session.Status
}

func (f *fakeSession) Send(ctx context.Context, number, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{number: number, message: message})
	return f.err
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) sendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

func newTestServer(t *testing.T, sess *fakeSession) (*Server, *bus.MessageBus, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.PublicDir = t.TempDir()
	mb := bus.NewMessageBus()
	m := metrics.New()
	t.Cleanup(mb.Close)
	return NewServer(cfg, sess, mb, m), mb, m
}
