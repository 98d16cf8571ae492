package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wabridge/pkg/whatsapp"
)

func newTestService(t *testing.T, client *fakeClient) (*Service, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := NewService(func(emit func(whatsapp.Signal)) whatsapp.Client {
		client.emit = emit
		return client
	}, pub, testPolicy(), nil)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc, pub
}

func eventNames(events []published) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.event)
	}
	return out
}

func TestServiceRelaysSignalsInOrder(t *testing.T) {
	client := &fakeClient{}
	svc, pub := newTestService(t, client)
	svc.Start(context.Background())

	client.emit(whatsapp.QR("2@first"))
	client.emit(whatsapp.Authenticated())
	client.emit(whatsapp.Ready())

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"qr", "authenticated", "ready"}, eventNames(pub.snapshot()))

	st := svc.Status()
	assert.Equal(t, ConnReady, st.State)
	assert.Empty(t, st.QR)
	assert.Equal(t, StateRunning, st.Recovery)
}

func TestServiceStatusTracksQR(t *testing.T) {
	client := &fakeClient{}
	svc, pub := newTestService(t, client)
	svc.Start(context.Background())

	client.emit(whatsapp.QR("2@pending"))
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	st := svc.Status()
	assert.Equal(t, ConnAwaitingQR, st.State)
	assert.Equal(t, "2@pending", st.QR)
}

func TestServiceDisconnectRunsRecovery(t *testing.T) {
	client := &fakeClient{}
	svc, pub := newTestService(t, client)
	svc.Start(context.Background())

	client.emit(whatsapp.Disconnected("NAVIGATION"))

	require.Eventually(t, func() bool {
		inits, destroys := client.counts()
		return inits == 2 && destroys == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"initialize", "destroy", "initialize"}, client.callLog())
	assert.Equal(t, []string{"disconnected"}, eventNames(pub.snapshot()))
}

func TestServiceLockedInitFailureRecovers(t *testing.T) {
	client := &fakeClient{initErr: func(call int) error {
		if call == 1 {
			return errors.New("open session db: database is locked")
		}
		return nil
	}}
	svc, pub := newTestService(t, client)
	svc.Start(context.Background())

	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 2
	}, 2*time.Second, 5*time.Millisecond)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].event)
	assert.Equal(t, "initialize: open session db: database is locked", events[0].data)
}

func TestServiceSend(t *testing.T) {
	client := &fakeClient{}
	svc, _ := newTestService(t, client)

	require.NoError(t, svc.Send(context.Background(), "5511999999999", "hello"))
	assert.Equal(t, []sentMessage{{to: "5511999999999", text: "hello"}}, client.sent)

	client.sendErr = errors.New("not logged in")
	assert.EqualError(t, svc.Send(context.Background(), "5511999999999", "again"), "not logged in")
}

func TestServiceStopIsIdempotent(t *testing.T) {
	client := &fakeClient{destroyErr: whatsapp.ErrNotInitialized}
	svc, _ := newTestService(t, client)
	svc.Start(context.Background())

	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	// Signals after stop are dropped without blocking.
	client.emit(whatsapp.Ready())
	_, destroys := client.counts()
	assert.Equal(t, 1, destroys)
}
