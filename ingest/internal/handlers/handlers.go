// Package handlers implements the ingest HTTP endpoints: single and batch
// event submission plus health probes.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aegis-telemetry/aegis/common/httputil"
	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/common/messaging"
	"github.com/aegis-telemetry/aegis/common/models"
	"github.com/aegis-telemetry/aegis/ingest/internal/keyauth"
	"github.com/aegis-telemetry/aegis/ingest/internal/metrics"
	"github.com/aegis-telemetry/aegis/ingest/internal/publisher"
	"github.com/aegis-telemetry/aegis/ingest/internal/ratelimit"
)

// MaxBatchSize is the largest number of events accepted in one batch
// request. Oversized batches are rejected before any token is consumed.
const MaxBatchSize = 100

const maxSourceLength = 100

// EventsHandler handles event submission requests.
type EventsHandler struct {
	resolver keyauth.Resolver
	limiter  ratelimit.Limiter
	pub      *publisher.Publisher
	logger   *logging.Logger
}

// NewEventsHandler creates the handler for the ingestion endpoints.
func NewEventsHandler(resolver keyauth.Resolver, limiter ratelimit.Limiter, pub *publisher.Publisher, logger *logging.Logger) *EventsHandler {
	return &EventsHandler{resolver: resolver, limiter: limiter, pub: pub, logger: logger}
}

type eventRequest struct {
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity"`
	LatencyMS *int64                 `json:"latency_ms"`
	Payload   map[string]interface{} `json:"payload"`
}

type batchRequest struct {
	Events []eventRequest `json:"events"`
}

// validate normalizes the request in place and returns the first
// validation problem found.
func (e *eventRequest) validate() error {
	if e.Source == "" {
		return errors.New("source is required")
	}
	if len(e.Source) > maxSourceLength {
		return fmt.Errorf("source exceeds %d characters", maxSourceLength)
	}
	if e.EventType == "" {
		return errors.New("event_type is required")
	}
	e.EventType = strings.ToUpper(e.EventType)
	if e.Severity == "" {
		e.Severity = models.SeverityInfo
	}
	e.Severity = strings.ToUpper(e.Severity)
	if !models.ValidSeverity(e.Severity) {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.LatencyMS != nil && *e.LatencyMS < 0 {
		return errors.New("latency_ms must not be negative")
	}
	return nil
}

// authenticate extracts the bearer API key and resolves its project.
// On failure it writes the response and returns ok=false.
func (h *EventsHandler) authenticate(w http.ResponseWriter, r *http.Request) (apiKey string, projectID int64, ok bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		metrics.AuthFailures.Inc()
		httputil.WriteError(w, http.StatusUnauthorized, "missing API key")
		return "", 0, false
	}
	apiKey = strings.TrimPrefix(auth, "Bearer ")

	projectID, err := h.resolver.ResolveProject(r.Context(), apiKey)
	if err != nil {
		if errors.Is(err, keyauth.ErrInvalidKey) || errors.Is(err, keyauth.ErrRevokedKey) {
			metrics.AuthFailures.Inc()
			httputil.WriteError(w, http.StatusUnauthorized, err.Error())
			return "", 0, false
		}
		h.logger.ErrorContext(r.Context(), "failed to resolve API key", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to verify API key")
		return "", 0, false
	}
	return apiKey, projectID, true
}

func rateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// admit runs the rate limit check, sets the X-RateLimit headers and, on
// denial, writes the 429 response.
func (h *EventsHandler) admit(w http.ResponseWriter, r *http.Request, apiKey string, kind ratelimit.Kind) bool {
	decision, err := h.limiter.Allow(r.Context(), apiKey, kind, 1)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rate limit check failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "rate limit check failed")
		return false
	}

	rateLimitHeaders(w, decision)

	if !decision.Allowed {
		httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// peekRateLimit sets the X-RateLimit headers without consuming a token, for
// rejections written before the admission check. Best effort: a limiter
// failure just omits the headers.
func (h *EventsHandler) peekRateLimit(w http.ResponseWriter, r *http.Request, apiKey string, kind ratelimit.Kind) {
	decision, err := h.limiter.Allow(r.Context(), apiKey, kind, 0)
	if err != nil {
		return
	}
	rateLimitHeaders(w, decision)
}

// IngestEvent handles POST /ingest/events.
func (h *EventsHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	apiKey, projectID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.peekRateLimit(w, r, apiKey, ratelimit.KindSingle)
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !h.admit(w, r, apiKey, ratelimit.KindSingle) {
		metrics.EventsTotal.WithLabelValues("single", "denied").Inc()
		return
	}

	if err := req.validate(); err != nil {
		metrics.EventsTotal.WithLabelValues("single", "invalid").Inc()
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	env := publisher.NewEnvelope(projectID, req.Source, req.EventType, req.Severity, req.LatencyMS, req.Payload)
	if err := h.pub.Publish(r.Context(), env); err != nil {
		metrics.EventsTotal.WithLabelValues("single", "broker_error").Inc()
		httputil.WriteError(w, http.StatusBadGateway, "event broker unavailable")
		return
	}

	metrics.EventsTotal.WithLabelValues("single", "accepted").Inc()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "accepted",
		"message_id": env.MessageID,
	})
}

// IngestBatch handles POST /ingest/events/batch. Validation is
// all-or-nothing: one bad event rejects the whole batch and nothing is
// published.
func (h *EventsHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	apiKey, projectID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.peekRateLimit(w, r, apiKey, ratelimit.KindBatch)
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Size limits are enforced before the admission check so an oversized
	// batch costs the client nothing.
	if len(req.Events) == 0 {
		h.peekRateLimit(w, r, apiKey, ratelimit.KindBatch)
		httputil.WriteError(w, http.StatusUnprocessableEntity, "events must not be empty")
		return
	}
	if len(req.Events) > MaxBatchSize {
		metrics.EventsTotal.WithLabelValues("batch", "invalid").Inc()
		h.peekRateLimit(w, r, apiKey, ratelimit.KindBatch)
		httputil.WriteError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("batch size %d exceeds maximum of %d", len(req.Events), MaxBatchSize))
		return
	}

	if !h.admit(w, r, apiKey, ratelimit.KindBatch) {
		metrics.EventsTotal.WithLabelValues("batch", "denied").Inc()
		return
	}

	for i := range req.Events {
		if err := req.Events[i].validate(); err != nil {
			metrics.EventsTotal.WithLabelValues("batch", "invalid").Inc()
			httputil.WriteError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("event %d: %s", i, err.Error()))
			return
		}
	}

	envs := make([]*models.EventEnvelope, 0, len(req.Events))
	for _, e := range req.Events {
		envs = append(envs, publisher.NewEnvelope(projectID, e.Source, e.EventType, e.Severity, e.LatencyMS, e.Payload))
	}

	if err := h.pub.PublishBatch(r.Context(), envs); err != nil {
		metrics.EventsTotal.WithLabelValues("batch", "broker_error").Inc()
		httputil.WriteError(w, http.StatusBadGateway, "event broker unavailable")
		return
	}

	ids := make([]string, len(envs))
	for i, env := range envs {
		ids[i] = env.MessageID
	}
	metrics.EventsTotal.WithLabelValues("batch", "accepted").Add(float64(len(envs)))
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"count":       len(envs),
		"message_ids": ids,
	})
}

// HealthHandler reports process liveness and broker connectivity.
type HealthHandler struct {
	broker messaging.ConnectionChecker
}

// NewHealthHandler creates the health probe handler.
func NewHealthHandler(broker messaging.ConnectionChecker) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Health handles GET /healthz. Broker disconnection degrades the service
// to 503 because every accepted event must reach the queue.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	broker := messaging.CheckHealth(h.broker)
	status := http.StatusOK
	overall := "ok"
	if !broker.Connected {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"status": overall,
		"broker": broker,
	})
}

// Ready handles GET /readyz.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
