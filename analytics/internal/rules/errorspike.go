package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-telemetry/aegis/common/models"
)

// ErrorSpikeRuleName identifies the built-in spike rule in alerts.
const ErrorSpikeRuleName = "error_spike"

const (
	errorSpikeThreshold = 5
	errorSpikeWindow    = 5 * time.Minute
)

// ErrorSpikeRule raises a HIGH alert when a project accumulates at least
// five ERROR events in a trailing five minute window. It only runs on
// ERROR arrivals; the count includes the event being processed, which the
// caller has already persisted.
type ErrorSpikeRule struct {
	counter WindowCounter
}

// NewErrorSpikeRule creates the built-in spike rule over a window counter.
func NewErrorSpikeRule(counter WindowCounter) *ErrorSpikeRule {
	return &ErrorSpikeRule{counter: counter}
}

// Name implements Evaluator.
func (r *ErrorSpikeRule) Name() string {
	return ErrorSpikeRuleName
}

// Evaluate implements Evaluator.
func (r *ErrorSpikeRule) Evaluate(ctx context.Context, env *models.EventEnvelope) (*Trigger, error) {
	if env.Severity != models.SeverityError {
		return nil, nil
	}

	// The window trails the event's own timestamp, not the wall clock, so
	// a backlog drained after an outage still detects the spike it carries.
	since := env.IngestedAt.Add(-errorSpikeWindow)
	count, err := r.counter.CountErrorsSince(ctx, env.ProjectID, since)
	if err != nil {
		return nil, fmt.Errorf("error spike window count: %w", err)
	}
	if count < errorSpikeThreshold {
		return nil, nil
	}

	return &Trigger{
		RuleName:    ErrorSpikeRuleName,
		Level:       models.LevelHigh,
		Message:     fmt.Sprintf("Error spike detected: %d errors in the last 5 minutes", count),
		DedupWindow: errorSpikeWindow,
	}, nil
}
