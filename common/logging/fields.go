package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService   = "service"
	FieldProjectID = "project_id"
	FieldMessageID = "message_id"
	FieldRule      = "rule"
	FieldSeverity  = "severity"
	FieldSource    = "source"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// ProjectID returns a slog attribute for the project ID.
func ProjectID(id int64) slog.Attr {
	return slog.Int64(FieldProjectID, id)
}

// MessageID returns a slog attribute for a queue message ID.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Rule returns a slog attribute for an alert rule name.
func Rule(name string) slog.Attr {
	return slog.String(FieldRule, name)
}

// Severity returns a slog attribute for an event severity.
func Severity(s string) slog.Attr {
	return slog.String(FieldSeverity, s)
}

// Source returns a slog attribute for an event source.
func Source(s string) slog.Attr {
	return slog.String(FieldSource, s)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
