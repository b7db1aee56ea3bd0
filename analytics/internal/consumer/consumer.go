// Package consumer processes event envelopes from the durable queue:
// validate, persist, evaluate rules, then ack.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegis-telemetry/aegis/analytics/internal/metrics"
	"github.com/aegis-telemetry/aegis/analytics/internal/rules"
	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/common/messaging"
	"github.com/aegis-telemetry/aegis/common/models"
)

// Store is the persistence surface the consumer needs.
type Store interface {
	InsertEvent(ctx context.Context, env *models.EventEnvelope) error
	CountErrorsSince(ctx context.Context, projectID int64, since time.Time) (int, error)
	ListRules(ctx context.Context, projectID int64) ([]models.Rule, error)
	InsertAlert(ctx context.Context, alert *models.Alert) error
	RaiseIfAbsent(ctx context.Context, projectID int64, ruleName, level, message string, window time.Duration) (bool, *models.Alert, error)
}

// Consumer handles one message at a time; the broker's MaxAckPending
// bounds how many run concurrently.
type Consumer struct {
	store  Store
	spike  *rules.ErrorSpikeRule
	logger *logging.Logger
}

// New creates a Consumer over a store.
func New(store Store, logger *logging.Logger) *Consumer {
	return &Consumer{
		store:  store,
		spike:  rules.NewErrorSpikeRule(store),
		logger: logger,
	}
}

// HandleMessage is the queue message handler. A malformed or invalid
// envelope is poison: the returned error wraps messaging.ErrDiscard so the
// broker terminates it instead of redelivering. Persistence and evaluation
// failures return plain errors, which the broker retries; a retry after
// persistence may duplicate an event row, which the append-only event
// store accepts.
func (c *Consumer) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	start := time.Now()

	var env models.EventEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		metrics.EventsConsumed.WithLabelValues("discarded").Inc()
		return fmt.Errorf("%w: malformed envelope: %v", messaging.ErrDiscard, err)
	}

	if err := env.Validate(); err != nil {
		metrics.EventsConsumed.WithLabelValues("discarded").Inc()
		c.logger.WarnContext(ctx, "discarding invalid envelope",
			logging.MessageID(env.MessageID),
			logging.Error(err),
		)
		return fmt.Errorf("%w: invalid envelope: %v", messaging.ErrDiscard, err)
	}

	if err := c.store.InsertEvent(ctx, &env); err != nil {
		metrics.EventsConsumed.WithLabelValues("retried").Inc()
		return fmt.Errorf("failed to persist event: %w", err)
	}

	if err := c.evaluate(ctx, &env); err != nil {
		metrics.EventsConsumed.WithLabelValues("retried").Inc()
		return err
	}

	metrics.EventsConsumed.WithLabelValues("processed").Inc()
	metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	c.logger.DebugContext(ctx, "event processed",
		logging.MessageID(env.MessageID),
		logging.ProjectID(env.ProjectID),
	)
	return nil
}

// evaluate runs the effective condition rules and the built-in error
// spike rule against a persisted event.
func (c *Consumer) evaluate(ctx context.Context, env *models.EventEnvelope) error {
	candidates, err := c.store.ListRules(ctx, env.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	for _, rule := range rules.Resolve(candidates) {
		trigger, err := rules.NewConditionRule(rule).Evaluate(ctx, env)
		if err != nil {
			// A broken rule definition must not block the pipeline; the
			// rule fails closed.
			c.logger.WarnContext(ctx, "rule evaluation failed",
				logging.Rule(rule.Name),
				logging.ProjectID(env.ProjectID),
				logging.Error(err),
			)
			continue
		}
		if trigger == nil {
			continue
		}

		alert := &models.Alert{
			ProjectID: env.ProjectID,
			RuleName:  trigger.RuleName,
			Message:   trigger.Message,
			Level:     trigger.Level,
		}
		if err := c.store.InsertAlert(ctx, alert); err != nil {
			return fmt.Errorf("failed to insert alert for rule %q: %w", trigger.RuleName, err)
		}
		metrics.AlertsRaised.WithLabelValues(trigger.RuleName).Inc()
		c.logger.InfoContext(ctx, "alert raised",
			logging.Rule(trigger.RuleName),
			logging.ProjectID(env.ProjectID),
			logging.Severity(trigger.Level),
		)
	}

	trigger, err := c.spike.Evaluate(ctx, env)
	if err != nil {
		return err
	}
	if trigger != nil {
		created, _, err := c.store.RaiseIfAbsent(ctx, env.ProjectID,
			trigger.RuleName, trigger.Level, trigger.Message, trigger.DedupWindow)
		if err != nil {
			return fmt.Errorf("failed to raise %s alert: %w", trigger.RuleName, err)
		}
		if created {
			metrics.AlertsRaised.WithLabelValues(trigger.RuleName).Inc()
			c.logger.InfoContext(ctx, "alert raised",
				logging.Rule(trigger.RuleName),
				logging.ProjectID(env.ProjectID),
				logging.Severity(trigger.Level),
			)
		} else {
			metrics.AlertsSuppressed.Inc()
			c.logger.InfoContext(ctx, "duplicate alert suppressed",
				logging.Rule(trigger.RuleName),
				logging.ProjectID(env.ProjectID),
			)
		}
	}

	return nil
}
