// Package metrics holds the Prometheus instruments shared by the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "classwatch"

// Outcome labels
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"

	RelayDelivered = "delivered"
	RelayDropped   = "dropped"
)

// Metrics is safe to use through a nil pointer, every method is then a no-op.
type Metrics struct {
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	joins          *prometheus.CounterVec
	leaves         prometheus.Counter
	relays         *prometheus.CounterVec
	codeCollisions prometheus.Counter
	sessions       prometheus.Counter
}

// New registers the instruments with reg. A nil registerer creates
// unregistered instruments, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	promautoFactory := promauto.With(reg)
	return &Metrics{
		connections: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "number of live real-time connections",
		}),
		rooms: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "number of sessions with at least one attached connection",
		}),
		joins: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "joins_total",
				Help:      "join attempts by role and result",
			},
			[]string{"role", "result"},
		),
		leaves: promautoFactory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_leaves_total",
			Help:      "participants transitioned to inactive",
		}),
		relays: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signaling_relays_total",
				Help:      "signaling messages by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		codeCollisions: promautoFactory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_code_collisions_total",
			Help:      "generated session codes rejected as duplicates",
		}),
		sessions: promautoFactory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "sessions created",
		}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) Join(role, result string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(role, result).Inc()
}

func (m *Metrics) Leave() {
	if m == nil {
		return
	}
	m.leaves.Inc()
}

func (m *Metrics) Relay(kind, outcome string) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) CodeCollision() {
	if m == nil {
		return
	}
	m.codeCollisions.Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}
