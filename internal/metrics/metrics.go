package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "screenlink"

// Relay holds the relay's collectors. A nil *Relay is valid and records nothing.
type Relay struct {
	Endpoints prometheus.Gauge
	Rooms     prometheus.Gauge
	Relayed   *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Received  *prometheus.CounterVec
}

// NewRelay creates the relay collectors and registers them on reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		Endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "endpoints",
			Help:      "Connected signaling endpoints.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_relayed_total",
			Help:      "Messages enqueued for delivery, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the recipient's queue was full or closed, by type.",
		}, []string{"type"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Messages read from endpoints, by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.Endpoints, m.Rooms, m.Relayed, m.Dropped, m.Received)
	}
	return m
}

// SetCounts records the directory size.
func (m *Relay) SetCounts(endpoints, rooms int) {
	if m == nil {
		return
	}
	m.Endpoints.Set(float64(endpoints))
	m.Rooms.Set(float64(rooms))
}

// Delivered counts one enqueued message.
func (m *Relay) Delivered(msgType string) {
	if m == nil {
		return
	}
	m.Relayed.WithLabelValues(msgType).Inc()
}

// Drop counts one dropped message.
func (m *Relay) Drop(msgType string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(msgType).Inc()
}

// Read counts one inbound message.
func (m *Relay) Read(msgType string) {
	if m == nil {
		return
	}
	m.Received.WithLabelValues(msgType).Inc()
}
