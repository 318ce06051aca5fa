package projection

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/m-osmani/tickethub/libs/kafkax"
)

// ApplyFunc applies one envelope payload to the local projection. It must
// be idempotent: redelivery of the same envelope has to converge to the
// same state.
type ApplyFunc func(ctx context.Context, payload json.RawMessage) error

// Dispatcher routes envelopes to apply functions by event type. Types
// without a registered apply are skipped, not failed: a consumer family
// only cares about the subset of the stream it projects.
type Dispatcher struct {
	logger  *slog.Logger
	applies map[string]ApplyFunc
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		applies: make(map[string]ApplyFunc),
	}
}

func (d *Dispatcher) Register(eventType string, fn ApplyFunc) {
	d.applies[eventType] = fn
}

func (d *Dispatcher) Apply(ctx context.Context, env kafkax.Envelope) error {
	fn, ok := d.applies[env.Type]
	if !ok {
		d.logger.Debug("no apply registered, skipping", "event_type", env.Type)
		return nil
	}
	return fn(ctx, env.Payload)
}
