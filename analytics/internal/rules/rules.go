// Package rules evaluates alert rules against event envelopes. Two rule
// shapes exist: condition rules loaded from the alert_rules table, and the
// built-in error spike rule over a trailing window.
package rules

import (
	"context"
	"time"

	"github.com/aegis-telemetry/aegis/common/models"
)

// Trigger describes an alert a rule wants raised.
type Trigger struct {
	RuleName string
	Level    string
	Message  string

	// DedupWindow suppresses a second alert for the same (project, rule)
	// while an open alert younger than the window exists. Zero means insert
	// unconditionally.
	DedupWindow time.Duration
}

// Evaluator evaluates one rule against one event. A nil Trigger with nil
// error means the rule did not match. An error means the rule could not be
// evaluated; the caller logs it and the rule fails closed.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, env *models.EventEnvelope) (*Trigger, error)
}

// WindowCounter supplies trailing-window aggregates to windowed rules.
type WindowCounter interface {
	CountErrorsSince(ctx context.Context, projectID int64, since time.Time) (int, error)
}

// Resolve computes the effective rule set for one project from the
// candidate rows (global rules plus the project's own, enabled or not).
// A project rule shadows a global rule of the same name; the shadowing
// happens over the full set before disabled rules are dropped, so a
// disabled project override suppresses the global it shadows rather than
// falling back to it.
func Resolve(candidates []models.Rule) []models.Rule {
	byName := make(map[string]models.Rule, len(candidates))
	order := make([]string, 0, len(candidates))

	for _, r := range candidates {
		existing, seen := byName[r.Name]
		if !seen {
			byName[r.Name] = r
			order = append(order, r.Name)
			continue
		}
		if existing.IsGlobal() && !r.IsGlobal() {
			byName[r.Name] = r
		}
	}

	resolved := make([]models.Rule, 0, len(order))
	for _, name := range order {
		if r := byName[name]; r.Enabled {
			resolved = append(resolved, r)
		}
	}
	return resolved
}
