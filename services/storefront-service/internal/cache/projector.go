package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/projection"
)

// Projector maintains the availability cache from the same streams the
// postgres projections consume, under its own consumer group.
type Projector struct {
	avail  *Availability
	logger *slog.Logger
}

func NewProjector(avail *Availability, logger *slog.Logger) *Projector {
	return &Projector{avail: avail, logger: logger}
}

func (p *Projector) RegisterAll(d *projection.Dispatcher) {
	d.Register("EventCreated", p.applyEventCreated)
	d.Register("EventRestored", p.applyEventCreated)
	d.Register("EventDeleted", p.applyEventDeleted)
	d.Register("TICKET_BOUGHT", p.applyTicketBought)
}

func (p *Projector) applyEventCreated(ctx context.Context, payload json.RawMessage) error {
	var body struct {
		ID       string `json:"id"`
		Capacity int    `json:"capacity"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	if body.ID == "" {
		return fmt.Errorf("event payload missing id")
	}
	return p.avail.Seed(ctx, body.ID, body.Capacity)
}

func (p *Projector) applyEventDeleted(ctx context.Context, payload json.RawMessage) error {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	if body.ID == "" {
		return fmt.Errorf("event payload missing id")
	}
	return p.avail.Remove(ctx, body.ID)
}

func (p *Projector) applyTicketBought(ctx context.Context, payload json.RawMessage) error {
	var body struct {
		ID      string `json:"id"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode ticket payload: %w", err)
	}
	if body.ID == "" || body.EventID == "" {
		return fmt.Errorf("ticket payload missing id or event_id")
	}
	remaining, err := p.avail.Decrement(ctx, body.EventID, body.ID)
	if err != nil {
		return err
	}
	if remaining < 0 {
		// EventCreated has not reached this cache yet. Redelivery will
		// succeed once the seed lands.
		return kafkax.Retryable(fmt.Errorf("availability for event %s not seeded", body.EventID))
	}
	p.logger.Debug("availability updated", "event_id", body.EventID, "remaining", remaining)
	return nil
}
