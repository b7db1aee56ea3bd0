// JetStream support for durable, persistent event delivery.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/aegis-telemetry/aegis/common/messaging"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type; FileStorage survives broker restarts.
	Storage jetstream.StorageType
}

// ConsumerConfig defines a durable JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is the time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxDeliver is the maximum delivery attempts before the broker stops
	// redelivering a message.
	MaxDeliver int

	// MaxAckPending bounds unacknowledged in-flight messages; this is the
	// prefetch/backpressure knob between the broker and downstream storage.
	MaxAckPending int
}

// EventsStream is the durable work queue for raw event envelopes. File
// storage keeps accepted envelopes across broker restarts.
var EventsStream = StreamConfig{
	Name:      messaging.EventsStreamName,
	Subjects:  []string{"aegis.events.>"},
	MaxAge:    24 * time.Hour,
	MaxBytes:  1024 * 1024 * 1024, // 1GB
	MaxMsgs:   1000000,
	Retention: jetstream.WorkQueuePolicy,
	Storage:   jetstream.FileStorage,
}

// EventsConsumer returns the durable consumer configuration for the
// analytics service with the given in-flight bound.
func EventsConsumer(maxAckPending int) ConsumerConfig {
	return ConsumerConfig{
		Name:          messaging.EventsConsumerName,
		FilterSubject: messaging.SubjectEventsRaw,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		MaxAckPending: maxAckPending,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer on a stream.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// Publish sends a message to JetStream and waits for the stream's
// acknowledgement, so an accepted message is durably stored.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream publish to %s: %w", subject, err)
	}
	return nil
}

// Consume delivers messages from a durable consumer to handler. A nil
// handler result acks the message; an error wrapping messaging.ErrDiscard
// terminates it (no redelivery); any other error naks it for broker-managed
// redelivery with a short delay.
//
// The returned stop function drains the consumer and blocks until every
// in-flight handler has finished, so shutdown drains rather than strands
// unacked messages.
func (c *JetStreamClient) Consume(ctx context.Context, streamName, consumerName string, handler messaging.MessageHandler) (func(), error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
		}
		if headers := msg.Headers(); headers != nil {
			m.Metadata = make(map[string]string)
			for k := range headers {
				m.Metadata[k] = headers.Get(k)
			}
		}

		err := handler(consumeCtx, m)
		switch {
		case err == nil:
			_ = msg.Ack()
		case messaging.IsDiscard(err):
			slog.Warn("terminating poison message",
				slog.String("subject", msg.Subject()),
				slog.String("error", err.Error()),
			)
			_ = msg.Term()
		default:
			_ = msg.NakWithDelay(5 * time.Second)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return drainStop(cons, cancel), nil
}

// drainer is the subset of jetstream.ConsumeContext shutdown needs.
type drainer interface {
	Drain()
	Closed() <-chan struct{}
}

// drainStop stops delivery, waits for already-dispatched handlers to run to
// completion, and only then cancels the handler context. Cancelling first
// would abort a handler mid-persist and force a redelivery.
func drainStop(cons drainer, cancel context.CancelFunc) func() {
	return func() {
		cons.Drain()
		<-cons.Closed()
		cancel()
	}
}
