package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts lifecycle outcomes by operation.
type Metrics struct {
	ops   *prometheus.CounterVec
	swept prometheus.Counter
}

// NewMetrics registers session collectors on reg. A nil reg yields
// unregistered collectors (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session lifecycle operations by op and outcome code.",
		}, []string{"op", "outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "session",
			Name:      "swept_records_total",
			Help:      "Refresh session records deleted by the expiry sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.swept)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, outcome(err)).Inc()
}
