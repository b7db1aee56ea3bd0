// Package publisher wraps validated events in queue envelopes and hands
// them to the durable broker.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/common/messaging"
	"github.com/aegis-telemetry/aegis/common/models"
	"github.com/aegis-telemetry/aegis/ingest/internal/metrics"
)

// ErrBrokerUnavailable means the broker rejected or never acknowledged the
// publish. Callers map this to a 502 so the client knows nothing was
// accepted.
var ErrBrokerUnavailable = errors.New("event broker unavailable")

// Publisher publishes event envelopes to the raw events subject.
type Publisher struct {
	broker messaging.Publisher
	logger *logging.Logger
}

// New creates a Publisher on top of a broker connection.
func New(broker messaging.Publisher, logger *logging.Logger) *Publisher {
	return &Publisher{broker: broker, logger: logger}
}

// NewEnvelope wraps a validated event in a queue envelope, assigning the
// message ID and ingestion timestamp.
func NewEnvelope(projectID int64, source, eventType, severity string, latencyMS *int64, payload map[string]interface{}) *models.EventEnvelope {
	return &models.EventEnvelope{
		MessageID:  uuid.NewString(),
		ProjectID:  projectID,
		Source:     source,
		EventType:  eventType,
		Severity:   severity,
		LatencyMS:  latencyMS,
		Payload:    payload,
		IngestedAt: time.Now().UTC(),
	}
}

// Publish sends one envelope and waits for the broker's acknowledgement.
func (p *Publisher) Publish(ctx context.Context, env *models.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	start := time.Now()
	err = p.broker.Publish(ctx, messaging.SubjectEventsRaw, data)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PublishErrors.Inc()
		p.logger.ErrorContext(ctx, "failed to publish event",
			logging.MessageID(env.MessageID),
			logging.ProjectID(env.ProjectID),
			logging.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	p.logger.DebugContext(ctx, "event published",
		logging.MessageID(env.MessageID),
		logging.ProjectID(env.ProjectID),
	)
	return nil
}

// PublishBatch sends every envelope in order. The first failure aborts the
// batch; callers treat a partially published batch as failed and the
// consumer-side idempotency makes client retries safe.
func (p *Publisher) PublishBatch(ctx context.Context, envs []*models.EventEnvelope) error {
	for i, env := range envs {
		if err := p.Publish(ctx, env); err != nil {
			return fmt.Errorf("batch aborted at event %d of %d: %w", i+1, len(envs), err)
		}
	}
	return nil
}
