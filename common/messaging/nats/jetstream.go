package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
)

// JetStreamClient extends Client with durable streams.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// ConsumerConfig defines a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string

	// AckWait is how long a message may stay unacknowledged before redelivery.
	AckWait time.Duration

	// MaxDeliver caps delivery attempts.
	MaxDeliver    int
	MaxAckPending int

	// NakDelay is the redelivery delay after a handler error.
	NakDelay time.Duration
}

// DefaultConsumerConfig returns sensible defaults for a consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       5 * time.Minute,
		MaxDeliver:    3,
		MaxAckPending: 16,
		NakDelay:      10 * time.Second,
	}
}

// DeepDiveStream holds queued deep-dive jobs until a worker acknowledges them.
var DeepDiveStream = StreamConfig{
	Name:      "IMPACTWATCH_DEEPDIVE",
	Subjects:  []string{messaging.SubjectDeepDiveRequested},
	MaxAge:    24 * time.Hour,
	MaxBytes:  64 * 1024 * 1024,
	MaxMsgs:   100000,
	Retention: jetstream.WorkQueuePolicy,
	Storage:   jetstream.FileStorage,
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

// PublishSync publishes a message and waits for the stream acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", subject, err)
	}
	return nil
}

// Consume creates (or updates) the durable consumer and feeds its messages to
// handler. Handler errors NAK with cfg.NakDelay. The returned func stops consumption.
func (c *JetStreamClient) Consume(ctx context.Context, streamName string, cfg ConsumerConfig, handler messaging.MessageHandler) (func(), error) {
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

	consumeCtx, cancel := context.WithCancel(ctx)
	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
		}
		if headers := msg.Headers(); headers != nil {
			m.Metadata = make(map[string]string, len(headers))
			for k := range headers {
				m.Metadata[k] = headers.Get(k)
			}
		}

		if err := handler(consumeCtx, m); err != nil {
			c.logger.Warn("jetstream handler failed, redelivering",
				slog.String("consumer", cfg.Name), logging.Error(err))
			_ = msg.NakWithDelay(cfg.NakDelay)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() {
		cancel()
		cons.Stop()
	}, nil
}
