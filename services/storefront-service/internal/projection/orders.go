package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/storage"
)

type OrderStore interface {
	Insert(ctx context.Context, p storage.OrderProjection) (int64, error)
	LocalIDByOrderID(ctx context.Context, orderID string) (int64, error)
	UpdateStatus(ctx context.Context, localID int64, status string) error
	Tombstone(ctx context.Context, localID int64) error
}

// ParentChecker answers whether the referenced event has been projected.
// No global order exists across topics, so an order can arrive before its
// event; that is a retryable condition, never a terminal one.
type ParentChecker interface {
	Exists(ctx context.Context, eventID string) (bool, error)
}

type OrderProjector struct {
	store  OrderStore
	events ParentChecker
}

func NewOrderProjector(store OrderStore, events ParentChecker) *OrderProjector {
	return &OrderProjector{store: store, events: events}
}

func (p *OrderProjector) RegisterAll(d *Dispatcher) {
	d.Register("OrderCreated", p.applyCreated)
	d.Register("OrderUpdated", p.applyUpdated)
	d.Register("OrderDeleted", p.applyDeleted)
	d.Register("TICKET_BOUGHT", p.applyTicketBought)
}

type orderPayload struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	AmountCents   int64  `json:"amount_cents"`
	PriceCents    int64  `json:"price_cents"`
}

func decodeOrderPayload(payload json.RawMessage) (orderPayload, error) {
	var op orderPayload
	if err := json.Unmarshal(payload, &op); err != nil {
		return op, fmt.Errorf("decode order payload: %w", err)
	}
	if op.ID == "" {
		return op, errors.New("order payload missing id")
	}
	return op, nil
}

// insertWithParentCheck guards the foreign reference: inserting an order
// whose event has not been projected yet would leave the read side
// answering queries about an event it knows nothing about.
func (p *OrderProjector) insertWithParentCheck(ctx context.Context, op orderPayload, status string, amountCents int64) error {
	if op.EventID == "" {
		return errors.New("order payload missing event_id")
	}
	ok, err := p.events.Exists(ctx, op.EventID)
	if err != nil {
		return err
	}
	if !ok {
		return kafkax.Retryable(fmt.Errorf("parent event %s not projected yet", op.EventID))
	}

	_, err = p.store.Insert(ctx, storage.OrderProjection{
		OrderID:       op.ID,
		EventID:       op.EventID,
		CustomerEmail: op.CustomerEmail,
		Status:        status,
		AmountCents:   amountCents,
	})
	return err
}

func (p *OrderProjector) applyCreated(ctx context.Context, payload json.RawMessage) error {
	op, err := decodeOrderPayload(payload)
	if err != nil {
		return err
	}
	status := op.Status
	if status == "" {
		status = "created"
	}
	return p.insertWithParentCheck(ctx, op, status, op.AmountCents)
}

func (p *OrderProjector) applyTicketBought(ctx context.Context, payload json.RawMessage) error {
	op, err := decodeOrderPayload(payload)
	if err != nil {
		return err
	}
	return p.insertWithParentCheck(ctx, op, "complete", op.PriceCents)
}

func (p *OrderProjector) applyUpdated(ctx context.Context, payload json.RawMessage) error {
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	if req.ID == "" || req.Status == "" {
		return errors.New("order payload missing id or status")
	}

	localID, err := p.store.LocalIDByOrderID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kafkax.Retryable(fmt.Errorf("order %s not correlated yet", req.ID))
		}
		return err
	}
	if err := p.store.UpdateStatus(ctx, localID, req.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Correlated but tombstoned: the delete won the race, the
			// update converges to a no-op.
			return nil
		}
		return err
	}
	return nil
}

func (p *OrderProjector) applyDeleted(ctx context.Context, payload json.RawMessage) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	if req.ID == "" {
		return errors.New("order payload missing id")
	}

	localID, err := p.store.LocalIDByOrderID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kafkax.Retryable(fmt.Errorf("order %s not correlated yet", req.ID))
		}
		return err
	}
	return p.store.Tombstone(ctx, localID)
}
