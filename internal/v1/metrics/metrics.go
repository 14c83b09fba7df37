package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the Dialogue event-routing server.
//
// Naming convention: namespace_subsystem_name
// - namespace: dialogue (application-level grouping)
// - subsystem: websocket, room, history, ratelimit (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)

var (
	// ActiveConnections tracks the current number of live WebSocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of registered rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of registered rooms",
	})

	// RoomParticipants tracks the participant count per room
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// EventsTriggered counts trigger outcomes by event name and status
	EventsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "events_total",
		Help:      "Total events routed through the trigger pipeline",
	}, []string{"event", "status"})

	// FanoutDuration measures the synchronous trigger path latency
	FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "fanout_seconds",
		Help:      "Time spent in the synchronous trigger pipeline",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// HistoryEvictions counts messages evicted from bounded history buffers
	HistoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "history",
		Name:      "evictions_total",
		Help:      "Total messages evicted from in-memory history",
	})

	// RateLimitRejections counts rejected requests by surface
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests rejected by a rate limiter",
	}, []string{"surface"})

	// CircuitBreakerState exposes the history archive breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "history",
		Name:      "breaker_state",
		Help:      "Circuit breaker state of the external history archive",
	}, []string{"backend"})

	// CircuitBreakerFailures counts calls dropped by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "history",
		Name:      "breaker_failures_total",
		Help:      "Archive calls rejected by an open circuit breaker",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
