package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the ingest API request shape.
type Event struct {
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity,omitempty"`
	LatencyMS *int64                 `json:"latency_ms,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// IngestClient talks to the ingest service.
type IngestClient struct {
	baseURL string
	client  *http.Client
}

func NewIngestClient(baseURL string) *IngestClient {
	return &IngestClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendEvent submits one event and returns its message ID.
func (c *IngestClient) SendEvent(apiKey string, event *Event) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("POST", c.baseURL+"/ingest/events", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", apiError(resp)
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.MessageID, nil
}

// SendBatch submits up to 100 events in one request.
func (c *IngestClient) SendBatch(apiKey string, events []*Event) ([]string, error) {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", c.baseURL+"/ingest/events/batch", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, apiError(resp)
	}

	var result struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.MessageIDs, nil
}

// Health checks the ingest service's liveness endpoint.
func (c *IngestClient) Health() error {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}
