package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the lockout state machine. A nil *Metrics is a no-op.
type Metrics struct {
	FailuresRecorded  prometheus.Counter
	LockoutsTriggered prometheus.Counter
	SuccessesRecorded prometheus.Counter
	LockedRejections  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		FailuresRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_lockout_failures_recorded_total",
			Help: "Authentication failures counted toward lockout",
		}),
		LockoutsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_lockout_locks_total",
			Help: "Failures that (re)armed a lockout window",
		}),
		SuccessesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_lockout_resets_total",
			Help: "Successful authentications that reset a counter",
		}),
		LockedRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceauth_lockout_rejections_total",
			Help: "Attempts rejected because the identity key was locked",
		}),
	}
}

func (m *Metrics) IncrementFailures() {
	if m != nil {
		m.FailuresRecorded.Inc()
	}
}

func (m *Metrics) IncrementLockouts() {
	if m != nil {
		m.LockoutsTriggered.Inc()
	}
}

func (m *Metrics) IncrementSuccesses() {
	if m != nil {
		m.SuccessesRecorded.Inc()
	}
}

func (m *Metrics) IncrementRejections() {
	if m != nil {
		m.LockedRejections.Inc()
	}
}
