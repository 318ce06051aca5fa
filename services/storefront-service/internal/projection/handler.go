package projection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Deduper is the inbox: it remembers which event ids were fully applied.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// NewDedupHandler decodes each delivery and applies it through the
// dispatcher, recording the event id only after the apply succeeds. A failed
// apply must leave no inbox row: marking the event as handled first would
// turn a retryable failure into a permanently skipped event, because every
// redelivery would hit the dedup check and ack without applying. A crash
// between apply and record re-applies on redelivery, which the apply funcs
// tolerate by being idempotent.
func NewDedupHandler(logger *slog.Logger, dedup Deduper, d *Dispatcher) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := kafkax.DecodeEnvelope(msg.Value)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		meta := kafkax.ExtractEventMeta(msg)

		seen, err := dedup.Seen(ctx, meta.EventID)
		if err != nil {
			return kafkax.Retryable(fmt.Errorf("inbox lookup: %w", err))
		}
		if seen {
			logger.Debug("duplicate delivery skipped", "event_id", meta.EventID)
			return nil
		}

		if err := d.Apply(ctx, env); err != nil {
			return err
		}

		if _, err := dedup.Record(ctx, meta.EventID, env.Type); err != nil {
			return kafkax.Retryable(fmt.Errorf("inbox record: %w", err))
		}
		return nil
	}
}

// NewHandler is the dedup-free variant for stores that carry their own
// replay protection.
func NewHandler(d *Dispatcher) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := kafkax.DecodeEnvelope(msg.Value)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		return d.Apply(ctx, env)
	}
}
