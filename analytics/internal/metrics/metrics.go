package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumption metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_analytics_events_consumed_total",
			Help: "Total number of queue messages processed by outcome",
		},
		[]string{"outcome"},
	)

	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aegis_analytics_process_duration_seconds",
			Help:    "Duration of full message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Alerting metrics
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_analytics_alerts_raised_total",
			Help: "Total number of alerts created",
		},
		[]string{"rule"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_analytics_alerts_suppressed_total",
			Help: "Total number of duplicate alerts suppressed by the dedup window",
		},
	)
)
