package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_ingest_events_total",
			Help: "Total number of events received",
		},
		[]string{"endpoint", "status"},
	)

	// Rate limiting metrics
	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_ingest_rate_limit_denials_total",
			Help: "Total number of admission checks denied",
		},
		[]string{"kind"},
	)

	// Publish metrics
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aegis_ingest_publish_duration_seconds",
			Help:    "Duration of broker publish calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_ingest_publish_errors_total",
			Help: "Total number of failed broker publishes",
		},
	)

	// Auth metrics
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_ingest_auth_failures_total",
			Help: "Total number of rejected API keys",
		},
	)
)
