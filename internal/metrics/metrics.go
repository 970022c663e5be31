package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArcusRequestsTotal tracks outbound Arcus API calls.
	ArcusRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcus_api_requests_total",
			Help: "Total number of Arcus API requests made (by operation and outcome).",
		},
		[]string{"operation", "outcome"},
	)

	// ArcusRequestDuration measures the duration of outbound Arcus API calls.
	ArcusRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arcus_api_request_duration_seconds",
			Help:    "Duration of Arcus API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"operation"},
	)

	// AuthEventsTotal tracks token lifecycle events (login, refresh, fallback).
	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcus_auth_events_total",
			Help: "Token lifecycle events by type and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// NATSPublishErrors tracks NATS publish failures by subject.
	NATSPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Number of NATS publish failures by subject.",
		},
		[]string{"subject"},
	)
)

// IncArcusRequest increments the Arcus API request counter.
func IncArcusRequest(operation, outcome string) {
	ArcusRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncAuthEvent increments the auth event counter.
func IncAuthEvent(event, outcome string) {
	AuthEventsTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveDuration records elapsed time since start for an operation.
func ObserveDuration(operation string, start time.Time) {
	ArcusRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncNATSPublishError increments the NATS publish error counter for the given subject.
func IncNATSPublishError(subject string) {
	NATSPublishErrors.WithLabelValues(subject).Inc()
}
