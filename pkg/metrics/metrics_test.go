package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.LifecycleEvents.WithLabelValues("qr").Inc()
	m.LifecycleEvents.WithLabelValues("qr").Inc()
	m.MessagesSent.WithLabelValues("ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LifecycleEvents.WithLabelValues("qr")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wabridge_lifecycle_events_total{event="qr"} 2`)
	assert.Contains(t, rec.Body.String(), `wabridge_messages_sent_total{result="ok"} 1`)
}

func TestSetRecoveryState(t *testing.T) {
	m := New()
	states := []string{"running", "tearing_down", "scheduled_restart"}

	m.SetRecoveryState("tearing_down", states...)
	m.SetRecoveryState("running", states...)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveryState.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecoveryState.WithLabelValues("tearing_down")))
}
