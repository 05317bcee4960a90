package metrics

import "github.com/prometheus/client_golang/prometheus"

// BalancerMetrics records load balancer selection outcomes.
type BalancerMetrics struct {
	selections *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
}

// NewBalancerMetrics registers the balancer metrics on the provided registerer.
func NewBalancerMetrics(reg prometheus.Registerer) *BalancerMetrics {
	if reg == nil {
		return &BalancerMetrics{}
	}
	selections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balancer_selections_total",
		Help: "Instance selections by service name.",
	}, []string{"service"})
	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balancer_no_healthy_total",
		Help: "Selections that found no healthy instance.",
	}, []string{"service"})
	reg.MustRegister(selections, exhausted)
	return &BalancerMetrics{
		selections: selections,
		exhausted:  exhausted,
	}
}

// IncSelection increments the selection counter for the service.
func (m *BalancerMetrics) IncSelection(service string) {
	if m == nil || m.selections == nil {
		return
	}
	m.selections.WithLabelValues(normalizeLabel(service)).Inc()
}

// IncExhausted increments the no-healthy-instance counter for the service.
func (m *BalancerMetrics) IncExhausted(service string) {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.WithLabelValues(normalizeLabel(service)).Inc()
}
