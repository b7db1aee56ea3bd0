// Package server exposes the analytics service's operational endpoints.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-telemetry/aegis/common/httputil"
	"github.com/aegis-telemetry/aegis/common/messaging"
)

// NewRouter wires the health and metrics endpoints. The analytics service
// has no data-plane HTTP surface; events arrive from the queue.
func NewRouter(broker messaging.ConnectionChecker) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status := messaging.CheckHealth(broker)
		code := http.StatusOK
		overall := "ok"
		if !status.Connected {
			code = http.StatusServiceUnavailable
			overall = "degraded"
		}
		httputil.WriteJSON(w, code, map[string]interface{}{
			"status": overall,
			"broker": status,
		})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
