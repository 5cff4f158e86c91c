package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds realtime collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	connections       prometheus.Gauge
	onlineUsers       prometheus.Gauge
	presence          *prometheus.CounterVec
	emits             *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	joinDenied        *prometheus.CounterVec
	handshakeRejected *prometheus.CounterVec
	busDropped        prometheus.Counter
}

// NewMetrics registers realtime collectors on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "connections",
			Help: "Live WebSocket connections on this process.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "online_users",
			Help: "Users with at least one live connection on this process.",
		}),
		presence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "presence_transitions_total",
			Help: "Presence transitions by direction.",
		}, []string{"transition"}),
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "emits_total",
			Help: "Emits published by target kind.",
		}, []string{"target"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "deliveries_total",
			Help: "Per-connection deliveries by result.",
		}, []string{"result"}),
		joinDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "join_denied_total",
			Help: "Rejected room joins by room kind.",
		}, []string{"kind"}),
		handshakeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "handshake_rejected_total",
			Help: "Rejected WebSocket handshakes by reason.",
		}, []string{"reason"}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "realtime", Name: "bus_dropped_total",
			Help: "Messages the bus refused to accept.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.onlineUsers, m.presence, m.emits,
			m.deliveries, m.joinDenied, m.handshakeRejected, m.busDropped)
	}
	return m
}

func (m *Metrics) connected(firstForUser bool) {
	if m == nil {
		return
	}
	m.connections.Inc()
	if firstForUser {
		m.onlineUsers.Inc()
		m.presence.WithLabelValues("online").Inc()
	}
}

func (m *Metrics) disconnected(lastForUser bool) {
	if m == nil {
		return
	}
	m.connections.Dec()
	if lastForUser {
		m.onlineUsers.Dec()
		m.presence.WithLabelValues("offline").Inc()
	}
}

func (m *Metrics) emitted(target string) {
	if m == nil {
		return
	}
	m.emits.WithLabelValues(target).Inc()
}

func (m *Metrics) delivered(ok, dropped int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.deliveries.WithLabelValues("delivered").Add(float64(ok))
	}
	if dropped > 0 {
		m.deliveries.WithLabelValues("dropped").Add(float64(dropped))
	}
}

func (m *Metrics) denied(kind RoomKind) {
	if m == nil {
		return
	}
	m.joinDenied.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.handshakeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) busDrop() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}
