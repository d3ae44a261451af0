package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for enrollment, verification and search decisions. A nil *Metrics
// is a no-op.
type Metrics struct {
	Outcomes *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faceauth_decisions_total",
			Help: "Biometric decisions by operation, result and reason",
		}, []string{"operation", "result", "reason"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faceauth_decision_duration_seconds",
			Help:    "Time spent evaluating a biometric decision",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordOutcome(operation, result, reason string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(operation, result, reason).Inc()
}

func (m *Metrics) ObserveLatency(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
