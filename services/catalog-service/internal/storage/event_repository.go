package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/model"
)

var ErrNotFound = errors.New("not found")

type EventRepository struct {
	pool *db.Pool
}

func NewEventRepository(pool *db.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *EventRepository) Insert(ctx context.Context, tx pgx.Tx, evt *model.Event) error {
	return tx.QueryRow(ctx, `
		INSERT INTO catalog_events (event_id, title, venue, starts_at, capacity, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, evt.ID, evt.Title, evt.Venue, evt.StartsAt, evt.Capacity, evt.PriceCents).
		Scan(&evt.CreatedAt, &evt.UpdatedAt)
}

func (r *EventRepository) Update(ctx context.Context, tx pgx.Tx, evt *model.Event) error {
	tag, err := tx.Exec(ctx, `
		UPDATE catalog_events
		SET title = $2, venue = $3, starts_at = $4, capacity = $5, price_cents = $6, updated_at = now()
		WHERE event_id = $1 AND deleted_at IS NULL
	`, evt.ID, evt.Title, evt.Venue, evt.StartsAt, evt.Capacity, evt.PriceCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete tombstones the event. The row is retained; default reads no
// longer see it until Restore clears the marker.
func (r *EventRepository) SoftDelete(ctx context.Context, tx pgx.Tx, eventID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE catalog_events
		SET deleted_at = now(), updated_at = now()
		WHERE event_id = $1 AND deleted_at IS NULL
	`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EventRepository) Restore(ctx context.Context, tx pgx.Tx, eventID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE catalog_events
		SET deleted_at = NULL, updated_at = now()
		WHERE event_id = $1 AND deleted_at IS NOT NULL
	`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EventRepository) FindByID(ctx context.Context, eventID string) (*model.Event, error) {
	return r.findByID(ctx, eventID, false)
}

// FindByIDIncludingDeleted is the explicit escape hatch past the tombstone
// filter, used by restore and audit paths only.
func (r *EventRepository) FindByIDIncludingDeleted(ctx context.Context, eventID string) (*model.Event, error) {
	return r.findByID(ctx, eventID, true)
}

func (r *EventRepository) findByID(ctx context.Context, eventID string, includeDeleted bool) (*model.Event, error) {
	query := `
		SELECT event_id, title, venue, starts_at, capacity, price_cents, created_at, updated_at, deleted_at
		FROM catalog_events
		WHERE event_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	var evt model.Event
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&evt.ID, &evt.Title, &evt.Venue, &evt.StartsAt, &evt.Capacity, &evt.PriceCents,
		&evt.CreatedAt, &evt.UpdatedAt, &evt.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *EventRepository) ListUpcoming(ctx context.Context, after time.Time) ([]model.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, title, venue, starts_at, capacity, price_cents, created_at, updated_at, deleted_at
		FROM catalog_events
		WHERE deleted_at IS NULL AND starts_at > $1
		ORDER BY starts_at
	`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var evt model.Event
		if err := rows.Scan(
			&evt.ID, &evt.Title, &evt.Venue, &evt.StartsAt, &evt.Capacity, &evt.PriceCents,
			&evt.CreatedAt, &evt.UpdatedAt, &evt.DeletedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
