package kafkax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// ErrPublishFailed marks broker submission failures. By the time Publish is
// called the triggering entity write has usually already committed, so the
// caller decides whether the failure is fatal or best-effort.
var ErrPublishFailed = errors.New("kafka publish failed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers string
	Topic   string
}

// Publisher sends one JSON-encoded event type to a fixed topic, keyed by the
// producing entity's id so the broker keeps per-entity partition affinity.
// It holds no retry state.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher fails when brokers or topic are missing; a half-configured
// publisher is a startup error, never a per-call one.
func NewPublisher(logger *slog.Logger, cfg PublisherConfig) (*Publisher, error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka producer topic not configured")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	})
	return &Publisher{writer: writer, topic: cfg.Topic, logger: logger}, nil
}

// Publish serializes event and blocks until the broker acknowledges the
// write. Success means the broker accepted the message, not that anyone has
// consumed it.
func (p *Publisher) Publish(ctx context.Context, key uuid.UUID, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrPublishFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(key.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(p.topic)},
		},
	}
	msg.Headers = InjectTraceHeaders(ctx, msg.Headers)

	p.logger.Info("publishing event", "topic", p.topic, "key", key.String())
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrPublishFailed, p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
