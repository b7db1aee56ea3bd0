package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-telemetry/aegis/common/middleware"
	"github.com/aegis-telemetry/aegis/ingest/internal/handlers"
)

// NewRouter wires the ingest endpoints onto a ServeMux.
func NewRouter(events *handlers.EventsHandler, health *handlers.HealthHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest/events", events.IngestEvent)
	mux.HandleFunc("POST /ingest/events/batch", events.IngestBatch)

	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("GET /readyz", health.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
