package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/model"
)

type TicketRepository struct {
	pool *db.Pool
}

func NewTicketRepository(pool *db.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) Insert(ctx context.Context, tx pgx.Tx, t *model.Ticket) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, event_id, seat, price_cents, sold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, t.ID, t.EventID, t.Seat, t.PriceCents, t.Sold).Scan(&t.CreatedAt)
}

// ReserveCapacity decrements the remaining capacity of the parent event,
// failing when the event is missing, tombstoned, or sold out. Runs inside
// the purchase transaction so an oversold purchase never commits.
func (r *TicketRepository) ReserveCapacity(ctx context.Context, tx pgx.Tx, eventID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE catalog_events
		SET capacity = capacity - 1, updated_at = now()
		WHERE event_id = $1 AND deleted_at IS NULL AND capacity > 0
	`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TicketRepository) MarkSold(ctx context.Context, tx pgx.Tx, ticketID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET sold = true
		WHERE ticket_id = $1 AND deleted_at IS NULL
	`, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
