// Package messaging provides abstractions for message broker communication.
// Services publish and consume through these interfaces without being
// coupled to a specific broker implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrDiscard marks a message as permanently unprocessable. A handler that
// returns an error wrapping ErrDiscard causes the message to be terminated
// (logged and dropped) instead of redelivered. Any other handler error
// requests broker-managed redelivery.
var ErrDiscard = errors.New("discard message")

// IsDiscard reports whether err requests permanent discard of the message.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrDiscard)
}

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs from message headers.
	Metadata map[string]string

	// Timestamp is when the message was received by this process.
	Timestamp time.Time
}

// MessageHandler processes a received message. Returning nil acknowledges
// the message; returning an error wrapping ErrDiscard terminates it; any
// other error triggers redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to subjects with durable delivery.
type Publisher interface {
	// Publish sends a message and waits for the broker's acknowledgement,
	// so an accepted message survives a broker restart.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}

// HealthStatus describes the state of a broker connection.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// ConnectionChecker reports broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

// CheckHealth summarizes the connectivity of a broker client.
func CheckHealth(c ConnectionChecker) HealthStatus {
	if c == nil {
		return HealthStatus{Error: "client is nil"}
	}
	if !c.IsConnected() {
		return HealthStatus{Error: "not connected to message broker"}
	}
	return HealthStatus{Connected: true}
}
