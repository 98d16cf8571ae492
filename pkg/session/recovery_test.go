package session

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

func testPolicy() RecoveryPolicy {
	p := DefaultRecoveryPolicy()
	p.Delay = 20 * time.Millisecond
	p.MaxDelay = 80 * time.Millisecond
	return p
}

func waitRunning(t *testing.T, rc *RecoveryController) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rc.State() == StateRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectDestroysThenReinitializes(t *testing.T) {
	client := &fakeClient{}
	rc := NewRecoveryController(client, testPolicy(), nil)
	defer rc.Stop()

	start := time.Now()
	rc.Handle(whatsapp.Disconnected("NAVIGATION"))

	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 1
	}, 2*time.Second, 5*time.Millisecond)
	waitRunning(t, rc)

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []string{"destroy", "initialize"}, client.callLog())
}

func TestDestroyFailureStillReinitializes(t *testing.T) {
	client := &fakeClient{destroyErr: errors.New("browser already closed")}
	rc := NewRecoveryController(client, testPolicy(), nil)
	defer rc.Stop()

	rc.Handle(whatsapp.Disconnected("LOGOUT"))

	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"destroy", "initialize"}, client.callLog())
}

func TestLockedErrorTriggersRecovery(t *testing.T) {
	client := &fakeClient{}
	rc := NewRecoveryController(client, testPolicy(), nil)
	defer rc.Stop()

	rc.Handle(whatsapp.Failure(errors.New("EBUSY: resource busy or locked, unlink 'chrome_debug.log'")))

	require.Eventually(t, func() bool {
		inits, destroys := client.counts()
		return inits == 1 && destroys == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOtherErrorsAndSignalsDoNotTrigger(t *testing.T) {
	client := &fakeClient{}
	rc := NewRecoveryController(client, testPolicy(), nil)
	defer rc.Stop()

	for _, sig := range []whatsapp.Signal{
		whatsapp.Failure(errors.New("stream error 503")),
		whatsapp.AuthFailure("banned"),
		whatsapp.QR("2@abc"),
		whatsapp.Ready(),
		whatsapp.Authenticated(),
	} {
		assert.False(t, rc.Triggers(sig), sig.String())
		rc.Handle(sig)
	}

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, client.callLog())
	assert.Equal(t, StateRunning, rc.State())
}

func TestOverlappingTriggersAreCoalesced(t *testing.T) {
	client := &fakeClient{}
	m := metrics.New()
	rc := NewRecoveryController(client, testPolicy(), m)
	defer rc.Stop()

	assert.True(t, rc.Trigger("first"))
	assert.False(t, rc.Trigger("second"))
	rc.Handle(whatsapp.Failure(errors.New("database is locked")))

	waitRunning(t, rc)
	time.Sleep(40 * time.Millisecond)

	inits, destroys := client.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecoveryCycles.WithLabelValues("coalesced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveryCycles.WithLabelValues("restarted")))
}

func TestNewCycleAfterCompletion(t *testing.T) {
	client := &fakeClient{}
	rc := NewRecoveryController(client, testPolicy(), nil)
	defer rc.Stop()

	require.True(t, rc.Trigger("first"))
	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 1
	}, 2*time.Second, 5*time.Millisecond)
	waitRunning(t, rc)

	require.True(t, rc.Trigger("second"))
	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBoundedRetryGivesUp(t *testing.T) {
	client := &fakeClient{initErr: func(int) error { return errors.New("connect: dial tcp: i/o timeout") }}
	m := metrics.New()
	policy := testPolicy()
	policy.MaxAttempts = 3
	rc := NewRecoveryController(client, policy, m)
	defer rc.Stop()

	rc.Trigger("disconnected")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RecoveryCycles.WithLabelValues("gave_up")) == 1
	}, 3*time.Second, 5*time.Millisecond)

	inits, destroys := client.counts()
	assert.Equal(t, 3, inits)
	assert.Equal(t, 1, destroys)
	assert.Equal(t, StateRunning, rc.State())
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	client := &fakeClient{initErr: func(call int) error {
		if call == 1 {
			return errors.New("database is locked")
		}
		return nil
	}}
	rc := NewRecoveryController(client, testPolicy(), nil)
	defer rc.Stop()

	rc.Trigger("disconnected")

	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitRunning(t, rc)
}

func TestSingleShotPolicy(t *testing.T) {
	client := &fakeClient{initErr: func(int) error { return errors.New("boom") }}
	policy := testPolicy()
	policy.MaxAttempts = 1
	rc := NewRecoveryController(client, policy, nil)
	defer rc.Stop()

	rc.Trigger("disconnected")
	require.Eventually(t, func() bool {
		inits, _ := client.counts()
		return inits == 1
	}, 2*time.Second, 5*time.Millisecond)
	waitRunning(t, rc)

	time.Sleep(100 * time.Millisecond)
	inits, _ := client.counts()
	assert.Equal(t, 1, inits)
}

func TestStopCancelsPendingRestart(t *testing.T) {
	client := &fakeClient{}
	policy := testPolicy()
	policy.Delay = 200 * time.Millisecond
	policy.MaxDelay = 200 * time.Millisecond
	rc := NewRecoveryController(client, policy, nil)

	rc.Trigger("disconnected")
	require.Eventually(t, func() bool {
		return rc.State() == StateScheduledRestart
	}, time.Second, 5*time.Millisecond)

	rc.Stop()
	time.Sleep(300 * time.Millisecond)

	inits, destroys := client.counts()
	assert.Equal(t, 0, inits)
	assert.Equal(t, 1, destroys)
	assert.False(t, rc.Trigger("after stop"))
}

func TestStopWaitsForRunningRestart(t *testing.T) {
	client := &fakeClient{
		initEntered: make(chan struct{}, 1),
		initRelease: make(chan struct{}),
	}
	rc := NewRecoveryController(client, testPolicy(), nil)

	rc.Trigger("disconnected")
	select {
	case <-client.initEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("restart never reached Initialize")
	}

	stopped := make(chan struct{})
	go func() {
		rc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while Initialize was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(client.initRelease)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after Initialize finished")
	}

	inits, destroys := client.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, destroys)
	assert.False(t, rc.Trigger("after stop"))
}

func TestPolicyDelay(t *testing.T) {
	p := RecoveryPolicy{Delay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 4*time.Second, p.delay(3))
	assert.Equal(t, 5*time.Second, p.delay(4))

	flat := RecoveryPolicy{Delay: 3 * time.Second, BackoffFactor: 1}
	assert.Equal(t, 3*time.Second, flat.delay(5))
}
