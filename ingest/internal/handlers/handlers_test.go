package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/common/models"
	"github.com/aegis-telemetry/aegis/ingest/internal/keyauth"
	"github.com/aegis-telemetry/aegis/ingest/internal/publisher"
	"github.com/aegis-telemetry/aegis/ingest/internal/ratelimit"
)

// Mocks for testing

type mockResolver struct {
	projectID int64
	err       error
}

func (m *mockResolver) ResolveProject(ctx context.Context, apiKey string) (int64, error) {
	return m.projectID, m.err
}

func (m *mockResolver) Close() {}

type mockLimiter struct {
	decision ratelimit.Decision
	err      error
	calls    int
	consumed int
}

func (m *mockLimiter) Allow(ctx context.Context, apiKey string, kind ratelimit.Kind, cost int) (ratelimit.Decision, error) {
	m.calls++
	m.consumed += cost
	return m.decision, m.err
}

func (m *mockLimiter) Close() error { return nil }

type mockBroker struct {
	published [][]byte
	err       error
}

func (m *mockBroker) Publish(ctx context.Context, subject string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, data)
	return nil
}

func (m *mockBroker) Close() error { return nil }

func allowedDecision(limit int) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: time.Now()}
}

func newTestHandler(resolver *mockResolver, limiter *mockLimiter, broker *mockBroker) *EventsHandler {
	logger := logging.Default()
	return NewEventsHandler(resolver, limiter, publisher.New(broker, logger), logger)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestIngestEvent_Accepted(t *testing.T) {
	broker := &mockBroker{}
	handler := newTestHandler(&mockResolver{projectID: 42}, &mockLimiter{decision: allowedDecision(100)}, broker)

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "checkout-service",
		"event_type": "http_request",
		"severity":   "error",
		"latency_ms": 120,
	}, "key-1")

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("Expected status 'accepted', got %v", resp["status"])
	}
	if resp["message_id"] == "" || resp["message_id"] == nil {
		t.Error("Expected non-empty message_id")
	}

	if len(broker.published) != 1 {
		t.Fatalf("Expected 1 published envelope, got %d", len(broker.published))
	}

	var env models.EventEnvelope
	if err := json.Unmarshal(broker.published[0], &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if env.ProjectID != 42 {
		t.Errorf("Envelope project_id = %d, want 42", env.ProjectID)
	}
	if env.Severity != "ERROR" {
		t.Errorf("Envelope severity = %s, want ERROR (normalized to uppercase)", env.Severity)
	}
	if env.EventType != "HTTP_REQUEST" {
		t.Errorf("Envelope event_type = %s, want HTTP_REQUEST", env.EventType)
	}
	if env.MessageID == "" {
		t.Error("Envelope message_id is empty")
	}
	if env.IngestedAt.IsZero() {
		t.Error("Envelope ingested_at is zero")
	}
}

func TestIngestEvent_SeverityDefaultsToInfo(t *testing.T) {
	broker := &mockBroker{}
	handler := newTestHandler(&mockResolver{projectID: 1}, &mockLimiter{decision: allowedDecision(100)}, broker)

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "web",
		"event_type": "page_view",
	}, "key-1")

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rr.Code)
	}

	var env models.EventEnvelope
	if err := json.Unmarshal(broker.published[0], &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if env.Severity != models.SeverityInfo {
		t.Errorf("Envelope severity = %s, want INFO", env.Severity)
	}
}

func TestIngestEvent_MissingAPIKey(t *testing.T) {
	handler := newTestHandler(&mockResolver{projectID: 1}, &mockLimiter{decision: allowedDecision(100)}, &mockBroker{})

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "web",
		"event_type": "page_view",
	}, "")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestIngestEvent_InvalidAPIKey(t *testing.T) {
	limiter := &mockLimiter{decision: allowedDecision(100)}
	handler := newTestHandler(&mockResolver{err: keyauth.ErrInvalidKey}, limiter, &mockBroker{})

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "web",
		"event_type": "page_view",
	}, "bad-key")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
	if limiter.calls != 0 {
		t.Errorf("Rate limiter called %d times for unauthenticated request, want 0", limiter.calls)
	}
}

func TestIngestEvent_RevokedAPIKey(t *testing.T) {
	handler := newTestHandler(&mockResolver{err: keyauth.ErrRevokedKey}, &mockLimiter{decision: allowedDecision(100)}, &mockBroker{})

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "web",
		"event_type": "page_view",
	}, "revoked-key")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestIngestEvent_RateLimited(t *testing.T) {
	broker := &mockBroker{}
	resetAt := time.Unix(2000, 0)
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 100, Remaining: 0, ResetAt: resetAt}}
	handler := newTestHandler(&mockResolver{projectID: 1}, limiter, broker)

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "web",
		"event_type": "page_view",
	}, "key-1")

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %s, want 100", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %s, want 0", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "2000" {
		t.Errorf("X-RateLimit-Reset = %s, want 2000", got)
	}
	if len(broker.published) != 0 {
		t.Errorf("Denied request published %d envelopes, want 0", len(broker.published))
	}
}

func TestIngestEvent_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "missing source",
			body: map[string]interface{}{"event_type": "page_view"},
		},
		{
			name: "missing event_type",
			body: map[string]interface{}{"source": "web"},
		},
		{
			name: "unknown severity",
			body: map[string]interface{}{"source": "web", "event_type": "page_view", "severity": "EXTREME"},
		},
		{
			name: "negative latency",
			body: map[string]interface{}{"source": "web", "event_type": "page_view", "latency_ms": -5},
		},
		{
			name: "source too long",
			body: map[string]interface{}{"source": string(make([]byte, 101)), "event_type": "page_view"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &mockBroker{}
			handler := newTestHandler(&mockResolver{projectID: 1}, &mockLimiter{decision: allowedDecision(100)}, broker)

			rr := postJSON(t, handler.IngestEvent, "/ingest/events", tt.body, "key-1")

			if rr.Code != http.StatusUnprocessableEntity {
				t.Errorf("Expected status 422, got %d: %s", rr.Code, rr.Body.String())
			}
			if len(broker.published) != 0 {
				t.Errorf("Invalid event published %d envelopes, want 0", len(broker.published))
			}
		})
	}
}

func TestIngestEvent_InvalidJSON(t *testing.T) {
	limiter := &mockLimiter{decision: allowedDecision(100)}
	handler := newTestHandler(&mockResolver{projectID: 1}, limiter, &mockBroker{})

	req := httptest.NewRequest(http.MethodPost, "/ingest/events", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer key-1")
	rr := httptest.NewRecorder()
	handler.IngestEvent(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100 on malformed request", got)
	}
	if limiter.consumed != 0 {
		t.Errorf("Malformed request consumed %d tokens, want 0", limiter.consumed)
	}
}

func TestIngestEvent_BrokerUnavailable(t *testing.T) {
	broker := &mockBroker{err: fmt.Errorf("connection refused")}
	handler := newTestHandler(&mockResolver{projectID: 1}, &mockLimiter{decision: allowedDecision(100)}, broker)

	rr := postJSON(t, handler.IngestEvent, "/ingest/events", map[string]interface{}{
		"source":     "web",
		"event_type": "page_view",
	}, "key-1")

	if rr.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rr.Code)
	}
}

func TestIngestBatch_Accepted(t *testing.T) {
	broker := &mockBroker{}
	handler := newTestHandler(&mockResolver{projectID: 7}, &mockLimiter{decision: allowedDecision(10)}, broker)

	events := []map[string]interface{}{
		{"source": "web", "event_type": "page_view"},
		{"source": "api", "event_type": "http_request", "severity": "warn"},
		{"source": "worker", "event_type": "job_done", "severity": "DEBUG"},
	}
	rr := postJSON(t, handler.IngestBatch, "/ingest/events/batch", map[string]interface{}{"events": events}, "key-1")

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status     string   `json:"status"`
		Count      int      `json:"count"`
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("Response count = %d, want 3", resp.Count)
	}
	if len(resp.MessageIDs) != 3 {
		t.Errorf("Response message_ids length = %d, want 3", len(resp.MessageIDs))
	}
	if len(broker.published) != 3 {
		t.Errorf("Published %d envelopes, want 3", len(broker.published))
	}
}

func TestIngestBatch_TooLarge(t *testing.T) {
	limiter := &mockLimiter{decision: allowedDecision(10)}
	broker := &mockBroker{}
	handler := newTestHandler(&mockResolver{projectID: 1}, limiter, broker)

	events := make([]map[string]interface{}, MaxBatchSize+1)
	for i := range events {
		events[i] = map[string]interface{}{"source": "web", "event_type": "page_view"}
	}
	rr := postJSON(t, handler.IngestBatch, "/ingest/events/batch", map[string]interface{}{"events": events}, "key-1")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", rr.Code)
	}
	if limiter.consumed != 0 {
		t.Errorf("Oversized batch consumed %d tokens, want 0", limiter.consumed)
	}
	if rr.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("Oversized batch response missing X-RateLimit headers")
	}
	if len(broker.published) != 0 {
		t.Errorf("Oversized batch published %d envelopes, want 0", len(broker.published))
	}
}

func TestIngestBatch_Empty(t *testing.T) {
	limiter := &mockLimiter{decision: allowedDecision(10)}
	handler := newTestHandler(&mockResolver{projectID: 1}, limiter, &mockBroker{})

	rr := postJSON(t, handler.IngestBatch, "/ingest/events/batch", map[string]interface{}{"events": []interface{}{}}, "key-1")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", rr.Code)
	}
	if limiter.consumed != 0 {
		t.Errorf("Empty batch consumed %d tokens, want 0", limiter.consumed)
	}
	if rr.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("Empty batch response missing X-RateLimit headers")
	}
}

func TestIngestBatch_AllOrNothing(t *testing.T) {
	broker := &mockBroker{}
	handler := newTestHandler(&mockResolver{projectID: 1}, &mockLimiter{decision: allowedDecision(10)}, broker)

	events := []map[string]interface{}{
		{"source": "web", "event_type": "page_view"},
		{"source": "web"}, // missing event_type
		{"source": "web", "event_type": "click"},
	}
	rr := postJSON(t, handler.IngestBatch, "/ingest/events/batch", map[string]interface{}{"events": events}, "key-1")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", rr.Code)
	}
	if len(broker.published) != 0 {
		t.Errorf("Partially valid batch published %d envelopes, want 0", len(broker.published))
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] != "event 1: event_type is required" {
		t.Errorf("Unexpected error message: %q", resp["error"])
	}
}

func TestIngestBatch_RateLimited(t *testing.T) {
	broker := &mockBroker{}
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 10, ResetAt: time.Now()}}
	handler := newTestHandler(&mockResolver{projectID: 1}, limiter, broker)

	events := []map[string]interface{}{
		{"source": "web", "event_type": "page_view"},
	}
	rr := postJSON(t, handler.IngestBatch, "/ingest/events/batch", map[string]interface{}{"events": events}, "key-1")

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rr.Code)
	}
	if len(broker.published) != 0 {
		t.Errorf("Denied batch published %d envelopes, want 0", len(broker.published))
	}
}

type mockChecker struct {
	connected bool
}

func (m *mockChecker) IsConnected() bool { return m.connected }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		wantStatus int
	}{
		{name: "broker connected", connected: true, wantStatus: http.StatusOK},
		{name: "broker disconnected", connected: false, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(&mockChecker{connected: tt.connected})
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rr := httptest.NewRecorder()
			handler.Health(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestReady(t *testing.T) {
	handler := NewHealthHandler(&mockChecker{connected: true})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Ready(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}
