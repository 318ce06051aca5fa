package orders

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/model"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/storage"
)

// Service owns the order and ticket write paths. These paths publish
// directly after the local commit instead of going through the outbox: an
// event is lost if the process dies between commit and publish. Accepted
// for these event types; the catalog paths, where loss is not acceptable,
// use the outbox.
type Service struct {
	pool      *db.Pool
	orders    *storage.OrderRepository
	tickets   *storage.TicketRepository
	publisher *kafkax.Publisher
	logger    *slog.Logger
	topic     string
}

func NewService(pool *db.Pool, ordersRepo *storage.OrderRepository, ticketsRepo *storage.TicketRepository,
	publisher *kafkax.Publisher, logger *slog.Logger, topic string) *Service {
	return &Service{
		pool:      pool,
		orders:    ordersRepo,
		tickets:   ticketsRepo,
		publisher: publisher,
		logger:    logger,
		topic:     topic,
	}
}

type orderSnapshot struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	TicketID      string `json:"ticket_id,omitempty"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	AmountCents   int64  `json:"amount_cents"`
}

func orderPayload(o *model.Order) orderSnapshot {
	return orderSnapshot{
		ID:            o.ID,
		EventID:       o.EventID,
		TicketID:      o.TicketID,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status,
		AmountCents:   o.AmountCents,
	}
}

func (s *Service) CreateOrder(ctx context.Context, eventID, customerEmail string, amountCents int64) (*model.Order, error) {
	order := &model.Order{
		ID:            uuid.NewString(),
		EventID:       eventID,
		CustomerEmail: customerEmail,
		Status:        model.OrderStatusCreated,
		AmountCents:   amountCents,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := s.orders.Insert(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.publish(ctx, "OrderCreated", order.ID, orderPayload(order))
	return order, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := s.orders.UpdateStatus(ctx, tx, orderID, status); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.publish(ctx, "OrderUpdated", orderID, map[string]string{"id": orderID, "status": status})
	return nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := s.orders.SoftDelete(ctx, tx, orderID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.publish(ctx, "OrderDeleted", orderID, map[string]string{"id": orderID})
	return nil
}

// PurchaseTicket reserves capacity, mints the ticket, and records the order
// in one transaction, then announces the sale.
func (s *Service) PurchaseTicket(ctx context.Context, eventID, seat, customerEmail string, priceCents int64) (*model.Order, error) {
	ticket := &model.Ticket{
		ID:         uuid.NewString(),
		EventID:    eventID,
		Seat:       seat,
		PriceCents: priceCents,
		Sold:       true,
	}
	order := &model.Order{
		ID:            uuid.NewString(),
		EventID:       eventID,
		TicketID:      ticket.ID,
		CustomerEmail: customerEmail,
		Status:        model.OrderStatusComplete,
		AmountCents:   priceCents,
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.tickets.ReserveCapacity(ctx, tx, eventID); err != nil {
			return err
		}
		if err := s.tickets.Insert(ctx, tx, ticket); err != nil {
			return err
		}
		return s.orders.Insert(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "TICKET_BOUGHT", order.ID, map[string]any{
		"id":             order.ID,
		"event_id":       eventID,
		"ticket_id":      ticket.ID,
		"seat":           seat,
		"customer_email": customerEmail,
		"price_cents":    priceCents,
	})
	return order, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) publish(ctx context.Context, eventType, aggregateID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("event payload marshal failed", "err", err, "event_type", eventType)
		return
	}
	env := kafkax.Envelope{Type: eventType, Payload: data}
	if err := s.publisher.Publish(ctx, s.topic, aggregateID, uuid.NewString(), env); err != nil {
		// Direct publish after commit: the local write stands, the event is
		// gone. Loud log so operators can replay from the admin store.
		s.logger.Error("direct publish failed, event lost",
			"err", err, "event_type", eventType, "aggregate_id", aggregateID)
	}
}
