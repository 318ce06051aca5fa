package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/model"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/outbox"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/storage"
)

// Service owns the catalog write paths. Every mutation records its outbox
// row in the same transaction as the entity write, which is what keeps the
// downstream projections from ever missing an event on crash.
type Service struct {
	pool   *db.Pool
	events *storage.EventRepository
	outbox *outbox.Repository
	logger *slog.Logger
}

func NewService(pool *db.Pool, events *storage.EventRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *Service {
	return &Service{
		pool:   pool,
		events: events,
		outbox: outboxRepo,
		logger: logger,
	}
}

type EventInput struct {
	Title      string
	Venue      string
	StartsAt   time.Time
	Capacity   int
	PriceCents int64
}

type eventSnapshot struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Venue      string    `json:"venue"`
	StartsAt   time.Time `json:"starts_at"`
	Capacity   int       `json:"capacity"`
	PriceCents int64     `json:"price_cents"`
}

func snapshot(evt *model.Event) eventSnapshot {
	return eventSnapshot{
		ID:         evt.ID,
		Title:      evt.Title,
		Venue:      evt.Venue,
		StartsAt:   evt.StartsAt,
		Capacity:   evt.Capacity,
		PriceCents: evt.PriceCents,
	}
}

func (s *Service) CreateEvent(ctx context.Context, in EventInput) (*model.Event, error) {
	evt := &model.Event{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Venue:      in.Venue,
		StartsAt:   in.StartsAt,
		Capacity:   in.Capacity,
		PriceCents: in.PriceCents,
	}

	err := s.withOutbox(ctx, "EventCreated", evt.ID, snapshot(evt), func(tx pgx.Tx) error {
		return s.events.Insert(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("event created", "event_id", evt.ID, "title", evt.Title)
	return evt, nil
}

func (s *Service) UpdateEvent(ctx context.Context, eventID string, in EventInput) (*model.Event, error) {
	evt := &model.Event{
		ID:         eventID,
		Title:      in.Title,
		Venue:      in.Venue,
		StartsAt:   in.StartsAt,
		Capacity:   in.Capacity,
		PriceCents: in.PriceCents,
	}

	err := s.withOutbox(ctx, "EventUpdated", eventID, snapshot(evt), func(tx pgx.Tx) error {
		return s.events.Update(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	payload := map[string]string{"id": eventID}
	err := s.withOutbox(ctx, "EventDeleted", eventID, payload, func(tx pgx.Tx) error {
		return s.events.SoftDelete(ctx, tx, eventID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("event tombstoned", "event_id", eventID)
	return nil
}

func (s *Service) RestoreEvent(ctx context.Context, eventID string) (*model.Event, error) {
	evt, err := s.events.FindByIDIncludingDeleted(ctx, eventID)
	if err != nil {
		return nil, err
	}

	err = s.withOutbox(ctx, "EventRestored", eventID, snapshot(evt), func(tx pgx.Tx) error {
		return s.events.Restore(ctx, tx, eventID)
	})
	if err != nil {
		return nil, err
	}
	evt.DeletedAt = nil
	return evt, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return s.events.FindByID(ctx, eventID)
}

// withOutbox runs the entity write and the outbox insert in one local
// transaction, so either both land or neither does.
func (s *Service) withOutbox(ctx context.Context, eventType, aggregateID string, payload any, write func(tx pgx.Tx) error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := write(tx); err != nil {
		return err
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "event",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
