package session

import (
	"context"
	"sync"

	"github.com/sipeed/wabridge/pkg/whatsapp"
)

type sentMessage struct {
	to, text string
}

// fakeClient records every call made by the session components.
type fakeClient struct {
	mu           sync.Mutex
	initCalls    int
	destroyCalls int
	calls        []string
	sent         []sentMessage

	initErr    func(call int) error
	destroyErr error
	sendErr    error
	emit       func(whatsapp.Signal)

	// initEntered is signalled when Initialize starts; Initialize then
	// waits for initRelease to close.
	initEntered chan struct{}
	initRelease chan struct{}
}

func (f *fakeClient) Initialize(ctx context.Context) error {
	if f.initEntered != nil {
		select {
		case f.initEntered <- struct{}{}:
		default:
		}
	}
	if f.initRelease != nil {
		<-f.initRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	f.calls = append(f.calls, "initialize")
	if f.initErr != nil {
		return f.initErr(f.initCalls)
	}
	return nil
}

func (f *fakeClient) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls++
	f.calls = append(f.calls, "destroy")
	return f.destroyErr
}

func (f *fakeClient) SendMessage(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return f.sendErr
}

func (f *fakeClient) counts() (initCalls, destroyCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.destroyCalls
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type published struct {
	source, event string
	data          interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(source, eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{source: source, event: eventType, data: data})
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}
