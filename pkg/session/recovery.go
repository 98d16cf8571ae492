package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// State of the recovery controller.
type State string

const (
	StateRunning          State = "running"
	StateTearingDown      State = "tearing_down"
	StateScheduledRestart State = "scheduled_restart"
)

var allStates = []string{string(StateRunning), string(StateTearingDown), string(StateScheduledRestart)}

// Lifecycle is the part of the client the controller drives.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// RecoveryPolicy is the teardown/restart schedule. Attempt n waits
// Delay * BackoffFactor^(n-1), capped at MaxDelay.
type RecoveryPolicy struct {
	Delay         time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	BackoffFactor float64
	// LockedMarkers are substrings of an error message that mark a held
	// resource (e.g. EBUSY) worth a restart.
	LockedMarkers []string
}

// DefaultRecoveryPolicy waits 3s and retries a failed restart twice more.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		Delay:         3 * time.Second,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   3,
		BackoffFactor: 2,
		LockedMarkers: []string{"EBUSY", "database is locked", "SQLITE_BUSY"},
	}
}

func (p RecoveryPolicy) delay(attempt int) time.Duration {
	d := p.Delay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffFactor)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// RecoveryController tears the client down and re-initializes it after
// disconnections and locked-resource errors. Only one cycle runs at a
// time; triggers that arrive mid-cycle are coalesced into it.
type RecoveryController struct {
	client  Lifecycle
	policy  RecoveryPolicy
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	timer   *time.Timer
	stopped bool
	stopCtx context.Context
	cancel  context.CancelFunc

	// cycle counts the teardown goroutine and any armed restart.
	cycle sync.WaitGroup
}

func NewRecoveryController(client Lifecycle, policy RecoveryPolicy, m *metrics.Metrics) *RecoveryController {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RecoveryController{
		client:  client,
		policy:  policy,
		metrics: m,
		state:   StateRunning,
		stopCtx: ctx,
		cancel:  cancel,
	}
	rc.publishState(StateRunning)
	return rc
}

func (rc *RecoveryController) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Triggers reports whether sig starts a recovery cycle.
func (rc *RecoveryController) Triggers(sig whatsapp.Signal) bool {
	switch sig.Kind {
	case whatsapp.SignalDisconnected:
		return true
	case whatsapp.SignalError:
		return rc.isLocked(sig.ErrorText())
	}
	return false
}

func (rc *RecoveryController) isLocked(msg string) bool {
	for _, m := range rc.policy.LockedMarkers {
		if m != "" && strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Handle starts a cycle when sig warrants one.
func (rc *RecoveryController) Handle(sig whatsapp.Signal) {
	if !rc.Triggers(sig) {
		return
	}
	if sig.Kind == whatsapp.SignalError {
		logger.WarnCF("recovery", "Locked resource error, restarting client", map[string]interface{}{
			"error": sig.ErrorText(),
			"delay": rc.policy.Delay.String(),
		})
	}
	rc.Trigger(sig.String())
}

// Trigger starts a teardown/restart cycle. It returns false when a cycle
// is already in progress or the controller is stopped.
func (rc *RecoveryController) Trigger(reason string) bool {
	rc.mu.Lock()
	if rc.stopped {
		rc.mu.Unlock()
		return false
	}
	if rc.state != StateRunning {
		state := rc.state
		rc.mu.Unlock()
		logger.DebugCF("recovery", "Recovery already in progress, coalescing trigger", map[string]interface{}{
			"reason": reason,
			"state":  string(state),
		})
		rc.count("coalesced")
		return false
	}
	rc.setStateLocked(StateTearingDown)
	rc.cycle.Add(1)
	rc.mu.Unlock()

	go rc.teardown(reason)
	return true
}

func (rc *RecoveryController) teardown(reason string) {
	defer rc.cycle.Done()
	logger.InfoCF("recovery", "Tearing down client", map[string]interface{}{
		"reason": reason,
	})
	if err := rc.client.Destroy(rc.stopCtx); err != nil {
		logger.ErrorCF("recovery", "Failed to destroy client", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.InfoC("recovery", "Client destroyed")
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.stopped {
		return
	}
	rc.setStateLocked(StateScheduledRestart)
	rc.scheduleLocked(1)
}

func (rc *RecoveryController) scheduleLocked(attempt int) {
	delay := rc.policy.delay(attempt)
	logger.InfoCF("recovery", "Restart scheduled", map[string]interface{}{
		"attempt": attempt,
		"delay":   delay.String(),
	})
	rc.cycle.Add(1)
	rc.timer = time.AfterFunc(delay, func() { rc.restart(attempt) })
}

func (rc *RecoveryController) restart(attempt int) {
	defer rc.cycle.Done()
	rc.mu.Lock()
	if rc.stopped {
		rc.mu.Unlock()
		return
	}
	rc.timer = nil
	rc.mu.Unlock()

	logger.InfoCF("recovery", "Reinitializing client", map[string]interface{}{
		"attempt": attempt,
	})
	err := rc.client.Initialize(rc.stopCtx)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.stopped {
		return
	}
	if err == nil {
		rc.setStateLocked(StateRunning)
		rc.count("restarted")
		return
	}

	logger.ErrorCF("recovery", "Failed to reinitialize client", map[string]interface{}{
		"attempt": attempt,
		"error":   err.Error(),
	})
	if attempt < rc.policy.MaxAttempts {
		rc.scheduleLocked(attempt + 1)
		return
	}
	logger.ErrorCF("recovery", "Giving up on client restart", map[string]interface{}{
		"attempts": attempt,
	})
	rc.setStateLocked(StateRunning)
	rc.count("gave_up")
}

// Stop cancels any pending restart and waits for a teardown or restart
// already running. No cycle starts afterwards.
func (rc *RecoveryController) Stop() {
	rc.mu.Lock()
	if rc.stopped {
		rc.mu.Unlock()
		rc.cycle.Wait()
		return
	}
	rc.stopped = true
	if rc.timer != nil {
		if rc.timer.Stop() {
			rc.cycle.Done()
		}
		rc.timer = nil
	}
	rc.cancel()
	rc.mu.Unlock()

	rc.cycle.Wait()
}

func (rc *RecoveryController) setStateLocked(s State) {
	rc.state = s
	rc.publishState(s)
}

func (rc *RecoveryController) publishState(s State) {
	if rc.metrics != nil {
		rc.metrics.SetRecoveryState(string(s), allStates...)
	}
}

func (rc *RecoveryController) count(outcome string) {
	if rc.metrics != nil {
		rc.metrics.RecoveryCycles.WithLabelValues(outcome).Inc()
	}
}
