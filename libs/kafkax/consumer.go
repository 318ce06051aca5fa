package kafkax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AckPolicy is an explicit per-queue delivery guarantee. AckAfterApply
// commits only after the handler succeeds (at-least-once); AckOnReceipt
// commits before handling, so a crashed handler loses the message.
type AckPolicy int

const (
	AckAfterApply AckPolicy = iota
	AckOnReceipt
)

func (p AckPolicy) String() string {
	if p == AckOnReceipt {
		return "on_receipt"
	}
	return "after_apply"
}

func ParseAckPolicy(s string) (AckPolicy, error) {
	switch s {
	case "after_apply", "":
		return AckAfterApply, nil
	case "on_receipt":
		return AckOnReceipt, nil
	default:
		return AckAfterApply, fmt.Errorf("unknown ack policy %q", s)
	}
}

type Handler func(ctx context.Context, msg kafka.Message) error

type ConsumerConfig struct {
	Brokers      string
	GroupID      string
	Topics       []string
	AckPolicy    AckPolicy
	MaxAttempts  int           // in-process delivery attempts before dead-lettering
	RetryBackoff time.Duration // fixed pause between retryable attempts
	DLQTopic     string        // overrides the per-source "<topic>.dlq" default
}

// messageSource is the slice of *kafka.Reader the consumer uses.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	source       messageSource
	logger       *slog.Logger
	handler      Handler
	policy       AckPolicy
	maxAttempts  int
	retryBackoff time.Duration
	deadLetter   func(ctx context.Context, msg kafka.Message, reason string) error
	dlqWriter    *kafka.Writer
}

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	brokers := SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	c := &Consumer{
		source:       reader,
		logger:       logger,
		handler:      handler,
		policy:       cfg.AckPolicy,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
	}
	c.dlqWriter = &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}
	c.deadLetter = func(ctx context.Context, msg kafka.Message, reason string) error {
		topic := deadLetterTopic(cfg.DLQTopic, msg.Topic)
		headers := append(msg.Headers,
			kafka.Header{Key: "dlq_reason", Value: []byte(reason)},
			kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
		)
		return c.dlqWriter.WriteMessages(ctx, kafka.Message{
			Topic:   topic,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: headers,
		})
	}
	return c
}

// deadLetterTopic keeps dead letters next to their source topic unless an
// explicit override is configured, so failures on one stream never hide in
// another stream's queue.
func deadLetterTopic(override, sourceTopic string) string {
	if override != "" {
		return override
	}
	return sourceTopic + ".dlq"
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.source.Close()
	if c.dlqWriter != nil {
		defer c.dlqWriter.Close()
	}

	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	msgCtx := ExtractTraceContext(ctx, msg)
	msgCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := ExtractEventMeta(msg)

	if c.policy == AckOnReceipt {
		if err := c.source.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("kafka commit failed", "err", err, "event_id", meta.EventID)
		}
		if err := c.handler(msgCtx, msg); err != nil {
			span.RecordError(err)
			c.logger.Error("handler error (message already acked)",
				"err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		}
		return
	}

	for attempt := 1; ; attempt++ {
		err := c.handler(msgCtx, msg)
		if err == nil {
			if err := c.source.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("kafka commit failed", "err", err, "event_id", meta.EventID)
			}
			return
		}
		span.RecordError(err)

		if !IsRetryable(err) {
			c.logger.Error("handler failed permanently",
				"err", err, "event_id", meta.EventID, "event_type", meta.EventType)
			c.sendToDeadLetter(ctx, msg, meta, err)
			return
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("handler retry budget exhausted",
				"err", err, "event_id", meta.EventID, "event_type", meta.EventType, "attempts", attempt)
			c.sendToDeadLetter(ctx, msg, meta, err)
			return
		}
		c.logger.Warn("handler failed, retrying",
			"err", err, "event_id", meta.EventID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryBackoff):
		}
	}
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, meta EventMeta, cause error) {
	if c.deadLetter == nil {
		return
	}
	if err := c.deadLetter(ctx, msg, cause.Error()); err != nil {
		c.logger.Error("dead-letter publish failed, leaving message unacked",
			"err", err, "event_id", meta.EventID)
		return
	}
	c.logger.Warn("message dead-lettered", "event_id", meta.EventID, "event_type", meta.EventType)
	if err := c.source.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("kafka commit failed after dead-letter", "err", err, "event_id", meta.EventID)
	}
}
