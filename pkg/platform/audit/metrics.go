package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks audit pipeline health. A nil *Metrics is a no-op.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Persisted       prometheus.Counter
	PersistFailures prometheus.Counter
	SyncFallbacks   prometheus.Counter
	SinkFailures    prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Emitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faceauth_audit_events_emitted_total",
			Help: "Audit events emitted, by event type",
		}, []string{"event_type"}),
		Persisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_audit_events_persisted_total",
			Help: "Audit events written to the audit store",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_audit_persist_failures_total",
			Help: "Audit events the store failed to persist",
		}),
		SyncFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_audit_sync_fallbacks_total",
			Help: "Audit events written synchronously because the buffer was full",
		}),
		SinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_audit_sink_failures_total",
			Help: "Audit events a mirror sink failed to accept",
		}),
	}
}

func (m *Metrics) IncEmitted(t EventType) {
	if m != nil {
		m.Emitted.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) IncPersisted() {
	if m != nil {
		m.Persisted.Inc()
	}
}

func (m *Metrics) IncPersistFailure() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) IncSyncFallback() {
	if m != nil {
		m.SyncFallbacks.Inc()
	}
}

func (m *Metrics) IncSinkFailure() {
	if m != nil {
		m.SinkFailures.Inc()
	}
}
