package kafkax

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one decoded event. Returning an error means the message's
// offset is not committed and the broker will redeliver it.
type Handler[T any] func(ctx context.Context, event T) error

type fetchCommitter interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type SubscriptionConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

// Subscription is a long-running consumer bound to one (topic, group, event
// type) triple. It fetches one message at a time, decodes it into T, invokes
// the handler, and commits the offset only after the handler succeeds.
// Redelivery cadence for failed messages is entirely the broker's.
type Subscription[T any] struct {
	reader  fetchCommitter
	logger  *slog.Logger
	topic   string
	handle  Handler[T]
	backoff time.Duration
}

// NewSubscription fails when brokers, topic or group are missing so a
// half-configured consumer never comes up.
func NewSubscription[T any](logger *slog.Logger, cfg SubscriptionConfig, handle Handler[T]) (*Subscription[T], error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka consumer topic not configured")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group not configured")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Subscription[T]{
		reader:  reader,
		logger:  logger,
		topic:   cfg.Topic,
		handle:  handle,
		backoff: time.Second,
	}, nil
}

// Run consumes until ctx is cancelled, then closes the reader so the
// partition assignment is released. Exactly one message is in flight at a
// time, preserving per-key order as delivered by the broker. An in-flight
// handler call finishes before teardown.
//
// A message whose handler fails is retried in place: consumer-group commits
// are positional per partition, so committing any later offset would mark
// the failed one consumed and lose it. The loop therefore never fetches past
// an unhandled message; handlers are idempotent by contract, which makes the
// repeat invocations safe.
func (s *Subscription[T]) Run(ctx context.Context) {
	defer s.reader.Close()

	s.logger.Info("subscription started", "topic", s.topic)
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("subscription stopped", "topic", s.topic)
				return
			}
			s.logger.Error("kafka fetch error", "topic", s.topic, "err", err)
			sleepCtx(ctx, s.backoff)
			continue
		}

		msgCtx := ExtractTraceContext(ctx, msg)
		msgCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		meta := ExtractEventMeta(msg)

		var event T
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Poison message: skip it rather than block the partition.
			s.logger.Error("undecodable payload skipped",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			span.RecordError(err)
			s.commit(ctx, msg, span)
			continue
		}

		for {
			err := s.handle(msgCtx, event)
			if err == nil {
				break
			}
			s.logger.Error("handler error",
				"topic", msg.Topic, "event_id", meta.EventID, "offset", msg.Offset, "err", err)
			span.RecordError(err)
			if !sleepCtx(ctx, s.backoff) {
				// Shutdown mid-retry: the offset stays uncommitted and the
				// broker redelivers from the last commit after rebalance.
				span.End()
				return
			}
		}
		s.commit(ctx, msg, span)
	}
}

func (s *Subscription[T]) commit(ctx context.Context, msg kafka.Message, span trace.Span) {
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		s.logger.Error("offset commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		span.RecordError(err)
	}
	span.End()
}

// sleepCtx reports whether the full duration elapsed before cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
