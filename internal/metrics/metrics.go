// Package metrics registers the Prometheus collectors for the messaging
// service. They are served at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookhaven_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Store
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookhaven_store_operation_duration_seconds",
			Help:    "Duration of message store writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Chat
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookhaven_messages_sent_total",
			Help: "Total number of stored messages",
		},
		[]string{"message_type"},
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookhaven_conversations_created_total",
			Help: "Total number of conversations created",
		},
		[]string{"kind"}, // "direct", "group"
	)

	ReadMarkers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookhaven_read_markers_total",
			Help: "Total number of read marker updates",
		},
	)

	AuthorizationDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookhaven_authorization_denied_total",
			Help: "Conversation operations rejected because the user is not a participant",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookhaven_websocket_connections",
			Help: "Current number of connected websocket clients",
		},
	)

	WSRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookhaven_websocket_rooms",
			Help: "Current number of conversation rooms with at least one member",
		},
	)

	WSEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookhaven_websocket_events_total",
			Help: "Websocket events by direction and type",
		},
		[]string{"direction", "event"},
	)

	WSDroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookhaven_websocket_dropped_clients_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// Notifications
	NotificationsEnqueueFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookhaven_notifications_enqueue_failed_total",
			Help: "Messages whose push fan-out could not be enqueued",
		},
	)

	NotificationJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookhaven_notification_jobs_total",
			Help: "Per-recipient push jobs emitted by fan-out",
		},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookhaven_notifications_dispatched_total",
			Help: "Push dispatch attempts by provider and outcome",
		},
		[]string{"provider", "outcome"}, // "sent", "failed", "expired", "rejected"
	)

	NotificationDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookhaven_notification_dispatch_duration_seconds",
			Help:    "Duration of push provider calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordDispatch records one push provider call.
func RecordDispatch(provider, outcome string, duration time.Duration) {
	NotificationsDispatched.WithLabelValues(provider, outcome).Inc()
	NotificationDispatchDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
