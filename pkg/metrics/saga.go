package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics records saga transition and activity outcomes.
type SagaMetrics struct {
	transitions *prometheus.CounterVec
	terminal    *prometheus.CounterVec
	activity    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
}

// NewSagaMetrics registers the saga metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transitions_total",
		Help: "Saga state transitions by target state.",
	}, []string{"state"})
	terminal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_terminal_total",
		Help: "Sagas reaching a terminal state.",
	}, []string{"outcome"})
	activity := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_activity_duration_seconds",
		Help:    "Duration of saga activity calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"activity"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_activity_retries_total",
		Help: "Activity retries scheduled by activity name.",
	}, []string{"activity"})
	reg.MustRegister(transitions, terminal, activity, retries)
	return &SagaMetrics{
		transitions: transitions,
		terminal:    terminal,
		activity:    activity,
		retries:     retries,
	}
}

// IncTransition increments the transition counter for the target state.
func (m *SagaMetrics) IncTransition(state string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncTerminal increments the terminal counter for the given outcome.
func (m *SagaMetrics) IncTerminal(outcome string) {
	if m == nil || m.terminal == nil {
		return
	}
	m.terminal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveActivity records the duration for the named activity.
func (m *SagaMetrics) ObserveActivity(activity string, duration time.Duration) {
	if m == nil || m.activity == nil {
		return
	}
	m.activity.WithLabelValues(normalizeLabel(activity)).Observe(duration.Seconds())
}

// IncRetry increments the retry counter for the named activity.
func (m *SagaMetrics) IncRetry(activity string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(activity)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
