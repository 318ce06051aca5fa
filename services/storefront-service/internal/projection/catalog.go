package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/storage"
)

// EventStore is the slice of the projection repository the catalog applies
// need.
type EventStore interface {
	Upsert(ctx context.Context, p storage.EventProjection) error
	Update(ctx context.Context, p storage.EventProjection) error
	Tombstone(ctx context.Context, eventID string) error
	Restore(ctx context.Context, eventID string) error
}

type CatalogProjector struct {
	store EventStore
}

func NewCatalogProjector(store EventStore) *CatalogProjector {
	return &CatalogProjector{store: store}
}

func (p *CatalogProjector) RegisterAll(d *Dispatcher) {
	d.Register("EventCreated", p.applyCreated)
	d.Register("EventUpdated", p.applyUpdated)
	d.Register("EventDeleted", p.applyDeleted)
	d.Register("EventRestored", p.applyRestored)
}

type eventPayload struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Venue      string    `json:"venue"`
	StartsAt   time.Time `json:"starts_at"`
	Capacity   int       `json:"capacity"`
	PriceCents int64     `json:"price_cents"`
}

func decodeEventPayload(payload json.RawMessage) (eventPayload, error) {
	var ep eventPayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		return ep, fmt.Errorf("decode event payload: %w", err)
	}
	if ep.ID == "" {
		return ep, errors.New("event payload missing id")
	}
	return ep, nil
}

func (ep eventPayload) projection() storage.EventProjection {
	return storage.EventProjection{
		EventID:    ep.ID,
		Title:      ep.Title,
		Venue:      ep.Venue,
		StartsAt:   ep.StartsAt,
		Capacity:   ep.Capacity,
		PriceCents: ep.PriceCents,
	}
}

func (p *CatalogProjector) applyCreated(ctx context.Context, payload json.RawMessage) error {
	ep, err := decodeEventPayload(payload)
	if err != nil {
		return err
	}
	return p.store.Upsert(ctx, ep.projection())
}

func (p *CatalogProjector) applyUpdated(ctx context.Context, payload json.RawMessage) error {
	ep, err := decodeEventPayload(payload)
	if err != nil {
		return err
	}
	if err := p.store.Update(ctx, ep.projection()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The create may still be in flight on another partition.
			return kafkax.Retryable(fmt.Errorf("event %s not in projection yet", ep.ID))
		}
		return err
	}
	return nil
}

func (p *CatalogProjector) applyDeleted(ctx context.Context, payload json.RawMessage) error {
	var ep struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &ep); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	if ep.ID == "" {
		return errors.New("event payload missing id")
	}
	if err := p.store.Tombstone(ctx, ep.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kafkax.Retryable(fmt.Errorf("event %s not in projection yet", ep.ID))
		}
		return err
	}
	return nil
}

func (p *CatalogProjector) applyRestored(ctx context.Context, payload json.RawMessage) error {
	ep, err := decodeEventPayload(payload)
	if err != nil {
		return err
	}
	if err := p.store.Restore(ctx, ep.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Either the tombstone never arrived or the row is already
			// live; upserting the snapshot converges both cases.
			return p.store.Upsert(ctx, ep.projection())
		}
		return err
	}
	return nil
}
