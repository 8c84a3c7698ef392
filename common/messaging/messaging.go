// Package messaging provides abstractions for message broker communication.
// Services publish and subscribe through these interfaces without being coupled
// to a specific broker implementation.
package messaging

import (
	"context"
	"time"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional message headers.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// MessageHandler processes a received message.
// A returned error asks the broker for redelivery where supported.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends a fire-and-forget message to subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishJSON marshals v and publishes it to subject.
	PublishJSON(ctx context.Context, subject string, v any) error

	Close() error
}

// Subscriber subscribes to messages on subjects.
type Subscriber interface {
	// Subscribe delivers every message on subject to handler (fan-out).
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe load-balances messages across members of queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)

	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber

	// Drain gracefully closes the connection, letting in-flight messages complete.
	Drain() error

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool
}
