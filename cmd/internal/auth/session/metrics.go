package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts session lifecycle outcomes.
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics registers warden_sessions_events_total on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "sessions",
			Name:      "events_total",
			Help:      "Session lifecycle events by outcome.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.events)
	return m
}

func (m *Metrics) observe(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}
