// Package metrics defines the Prometheus collectors exported by trackpoll.
//
// Collectors are registered against an explicit [prometheus.Registerer] so
// that several schedulers (and tests) can coexist in one process. All
// recording methods are nil-safe: a nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trackpoll"

// Probe outcomes used as the "outcome" label.
const (
	OutcomeMatched = "matched"
	OutcomePending = "pending"
	OutcomeError   = "error"
)

// Metrics holds the scheduler, probe and store collectors.
type Metrics struct {
	SessionsActive     prometheus.Gauge
	Registrations      prometheus.Counter
	Restored           prometheus.Counter
	Terminated         *prometheus.CounterVec
	Probes             *prometheus.CounterVec
	ProbeDuration      prometheus.Histogram
	StoreErrors        *prometheus.CounterVec
	CompletedSetSize   prometheus.Gauge
	NotificationsTotal prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Poll sessions currently being tracked",
		}),
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total",
			Help: "Sessions created by Register",
		}),
		Restored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_restored_total",
			Help: "Sessions re-armed from the session store",
		}),
		Terminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_terminated_total",
			Help: "Sessions that reached a terminal state",
		}, []string{"state"}),
		Probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_total",
			Help: "Probe attempts by outcome",
		}, []string{"outcome"}),
		ProbeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "probe_duration_seconds",
			Help:    "Probe round-trip latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total",
			Help: "Session store failures by operation",
		}, []string{"op"}),
		CompletedSetSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "completed_set_size",
			Help: "Identifiers held in the completed set",
		}),
		NotificationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "CONDITION_MET notifications emitted",
		}),
	}
}

// SetActive records the number of active sessions.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// Registered counts a new session.
func (m *Metrics) Registered() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

// RestoredSession counts a session re-armed from storage.
func (m *Metrics) RestoredSession() {
	if m == nil {
		return
	}
	m.Restored.Inc()
}

// TerminatedSession counts a session entering a terminal state.
func (m *Metrics) TerminatedSession(state string) {
	if m == nil {
		return
	}
	m.Terminated.WithLabelValues(state).Inc()
}

// ObserveProbe records one probe attempt.
func (m *Metrics) ObserveProbe(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(outcome).Inc()
	m.ProbeDuration.Observe(d.Seconds())
}

// StoreError counts a failed store operation ("get", "set", "remove", "get_all").
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// SetCompleted records the completed-set size.
func (m *Metrics) SetCompleted(n int) {
	if m == nil {
		return
	}
	m.CompletedSetSize.Set(float64(n))
}

// Notified counts an emitted notification.
func (m *Metrics) Notified() {
	if m == nil {
		return
	}
	m.NotificationsTotal.Inc()
}
