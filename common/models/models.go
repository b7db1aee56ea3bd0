// Package models defines the domain types shared between the ingest and
// analytics services: events, queue envelopes, alert rules and alerts.
package models

import (
	"fmt"
	"time"
)

// Event severities accepted at ingestion.
const (
	SeverityDebug    = "DEBUG"
	SeverityInfo     = "INFO"
	SeverityWarn     = "WARN"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Alert levels, lowest to highest.
const (
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// ValidSeverity reports whether s is a known event severity.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Event is a single persisted telemetry event. Rows are append-only; an
// event is never mutated after the consumer writes it.
type Event struct {
	ID        int64                  `json:"id"`
	ProjectID int64                  `json:"project_id"`
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity"`
	LatencyMS *int64                 `json:"latency_ms"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventEnvelope is the immutable queue representation of a validated event.
// MessageID is the idempotency key; the envelope carries everything the
// consumer needs to reconstruct an Event without calling back to the
// producer.
type EventEnvelope struct {
	MessageID  string                 `json:"message_id"`
	ProjectID  int64                  `json:"project_id"`
	Source     string                 `json:"source"`
	EventType  string                 `json:"event_type"`
	Severity   string                 `json:"severity"`
	LatencyMS  *int64                 `json:"latency_ms"`
	Payload    map[string]interface{} `json:"payload"`
	IngestedAt time.Time              `json:"ingested_at"`
}

// Validate checks the envelope for the fields the consumer requires.
// A failing envelope is a poison message: logged and discarded, never
// requeued.
func (e *EventEnvelope) Validate() error {
	if e.MessageID == "" {
		return fmt.Errorf("missing message_id")
	}
	if e.ProjectID <= 0 {
		return fmt.Errorf("missing or invalid project_id")
	}
	if e.Source == "" {
		return fmt.Errorf("missing source")
	}
	if e.EventType == "" {
		return fmt.Errorf("missing event_type")
	}
	if !ValidSeverity(e.Severity) {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.LatencyMS != nil && *e.LatencyMS < 0 {
		return fmt.Errorf("negative latency_ms")
	}
	return nil
}

// Field returns the named envelope field for rule evaluation. Top-level
// fields take precedence over payload keys. The second return is false when
// the field is absent.
func (e *EventEnvelope) Field(name string) (interface{}, bool) {
	switch name {
	case "project_id":
		return e.ProjectID, true
	case "source":
		return e.Source, true
	case "event_type":
		return e.EventType, true
	case "severity":
		return e.Severity, true
	case "latency_ms":
		if e.LatencyMS == nil {
			return nil, false
		}
		return *e.LatencyMS, true
	}
	if v, ok := e.Payload[name]; ok {
		return v, true
	}
	return nil, false
}

// Rule is an alert rule definition. ProjectID nil marks a global rule; a
// project rule shadows a global rule of the same name for that project.
type Rule struct {
	ID              int64  `json:"id"`
	ProjectID       *int64 `json:"project_id"`
	Name            string `json:"name"`
	Field           string `json:"field"`
	Operator        string `json:"operator"`
	Value           string `json:"value"`
	AlertLevel      string `json:"alert_level"`
	MessageTemplate string `json:"message_template"`
	Enabled         bool   `json:"enabled"`
}

// IsGlobal reports whether the rule applies to all projects.
func (r *Rule) IsGlobal() bool {
	return r.ProjectID == nil
}

// Alert is a raised alert. ResolvedAt is set only by the external
// management API; the pipeline never resolves alerts.
type Alert struct {
	ID         int64      `json:"id"`
	ProjectID  int64      `json:"project_id"`
	RuleName   string     `json:"rule_name"`
	Message    string     `json:"message"`
	Level      string     `json:"level"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}
