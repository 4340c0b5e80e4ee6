package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "menlo"

var (
	once sync.Once

	bookingOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_requests_total",
			Help:      "Booking submissions by outcome.",
		},
		[]string{"outcome"},
	)

	storeRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Latency of remote store calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"op", "status"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery status.",
		},
		[]string{"kind", "status"},
	)

	telemetryDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry snapshots dropped because the queue was full or the push failed.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "View adapter requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "In-process booking events by type.",
		},
		[]string{"type"},
	)

	requestedDays = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_requested_days",
			Help:      "Length in days of created bookings.",
			Buckets:   []float64{1, 2, 3, 5, 7, 14, 30},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingOutcome, storeRequests, notifications, telemetryDropped, httpRequests, eventsPublished, requestedDays)
	})
}

func IncBookingOutcome(outcome string) {
	bookingOutcome.WithLabelValues(outcome).Inc()
}

func ObserveStoreRequest(op string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeRequests.WithLabelValues(op, status).Observe(d.Seconds())
}

func IncNotification(kind, status string) {
	notifications.WithLabelValues(kind, status).Inc()
}

func IncTelemetryDropped() {
	telemetryDropped.Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncEvent(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

func ObserveBookingDays(days int) {
	requestedDays.Observe(float64(days))
}
