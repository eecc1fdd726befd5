package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the real-time event fan-out gateway.
//
// Naming convention: namespace_subsystem_name
// - namespace: realtime_gateway (application-level grouping)
// - subsystem: websocket, room, bus, push, notification (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, subscriptions)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtime_gateway",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// AuthenticatedConnections tracks the current number of connections past the auth grace period.
	AuthenticatedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtime_gateway",
		Subsystem: "websocket",
		Name:      "connections_authenticated",
		Help:      "Current number of authenticated WebSocket connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtime_gateway",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "realtime_gateway",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "realtime_gateway",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// BroadcastFanout tracks the total number of recipients a broadcast reached.
	BroadcastFanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "room",
		Name:      "broadcast_fanout_total",
		Help:      "Total number of recipient sockets reached by broadcasts",
	}, []string{"scope"})

	// CircuitBreakerState tracks the current state of the circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "realtime_gateway",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "realtime_gateway",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// BusEnvelopesPublished tracks envelopes published to the cross-instance bus.
	BusEnvelopesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "bus",
		Name:      "envelopes_published_total",
		Help:      "Total envelopes published to the pub/sub bus",
	}, []string{"status"})

	// BusEnvelopesReceived tracks envelopes received from the bus, including self-origin drops.
	BusEnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "bus",
		Name:      "envelopes_received_total",
		Help:      "Total envelopes received from the pub/sub bus",
	}, []string{"status"})

	// PushDispatched tracks web push deliveries.
	PushDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "push",
		Name:      "dispatched_total",
		Help:      "Total web push delivery attempts",
	}, []string{"status"})

	// NotificationsCreated tracks notifications written to the inbox.
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "notification",
		Name:      "created_total",
		Help:      "Total notifications written to the inbox",
	}, []string{"kind"})

	// WebhookRequests tracks inbound webhook requests.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total inbound webhook requests",
	}, []string{"route", "status"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
