// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wabridge"

// Metrics groups the bridge collectors on their own registry so tests can
// build independent instances.
type Metrics struct {
	registry *prometheus.Registry

	LifecycleEvents *prometheus.CounterVec
	MessagesSent    *prometheus.CounterVec
	RecoveryCycles  *prometheus.CounterVec
	RecoveryState   *prometheus.GaugeVec
	Subscribers     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Client lifecycle signals relayed to subscribers, by event.",
		}, []string{"event"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Send attempts through POST /send-message, by result.",
		}, []string{"result"}),
		RecoveryCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_cycles_total",
			Help:      "Recovery triggers, by outcome (restarted, gave_up, coalesced).",
		}, []string{"outcome"}),
		RecoveryState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_state",
			Help:      "1 for the current recovery controller state.",
		}, []string{"state"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscribers",
			Help:      "Connected real-time subscribers.",
		}),
	}
	m.registry.MustRegister(
		m.LifecycleEvents,
		m.MessagesSent,
		m.RecoveryCycles,
		m.RecoveryState,
		m.Subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetRecoveryState marks state as the only active one among states.
func (m *Metrics) SetRecoveryState(state string, states ...string) {
	for _, s := range states {
		m.RecoveryState.WithLabelValues(s).Set(0)
	}
	m.RecoveryState.WithLabelValues(state).Set(1)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
