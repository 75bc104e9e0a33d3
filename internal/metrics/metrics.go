// Package metrics holds the Prometheus collectors for the real-time layer.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector exported by the server.
type Metrics struct {
	ConnectedClients   prometheus.Gauge
	ActiveCalls        prometheus.Gauge
	InboundEvents      *prometheus.CounterVec
	Deliveries         prometheus.Counter
	SignalsDropped     prometheus.Counter
	PersistFailures    prometheus.Counter
	StoreConflicts     prometheus.Counter
	Notifications      *prometheus.CounterVec
	RateLimitedClients prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexus",
			Name:      "connected_clients",
			Help:      "Number of live websocket channels.",
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexus",
			Name:      "active_calls",
			Help:      "Number of call rooms with at least one participant.",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "inbound_events_total",
			Help:      "Inbound real-time events by event name and outcome.",
		}, []string{"event", "outcome"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "fanout_deliveries_total",
			Help:      "Outbound frames queued on live channels.",
		}),
		SignalsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "signals_dropped_total",
			Help:      "Signaling payloads with no live destination.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "message_persist_failures_total",
			Help:      "Chat messages delivered without being persisted.",
		}),
		StoreConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "identity_store_conflicts_total",
			Help:      "Identity Store writes rejected because the document changed.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "notifications_total",
			Help:      "Social graph notifications emitted by event name.",
		}, []string{"event"}),
		RateLimitedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "rate_limited_events_total",
			Help:      "Inbound events discarded by the per-channel rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectedClients,
			m.ActiveCalls,
			m.InboundEvents,
			m.Deliveries,
			m.SignalsDropped,
			m.PersistFailures,
			m.StoreConflicts,
			m.Notifications,
			m.RateLimitedClients,
		)
	}
	return m
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.ConnectedClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.ConnectedClients.Dec()
	}
}

func (m *Metrics) SetActiveCalls(n int) {
	if m != nil {
		m.ActiveCalls.Set(float64(n))
	}
}

func (m *Metrics) Event(event, outcome string) {
	if m != nil {
		m.InboundEvents.WithLabelValues(event, outcome).Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.Deliveries.Add(float64(n))
	}
}

func (m *Metrics) SignalDropped() {
	if m != nil {
		m.SignalsDropped.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) StoreConflict() {
	if m != nil {
		m.StoreConflicts.Inc()
	}
}

func (m *Metrics) Notified(event string) {
	if m != nil {
		m.Notifications.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.RateLimitedClients.Inc()
	}
}
