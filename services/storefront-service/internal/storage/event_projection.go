package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
)

var ErrNotFound = errors.New("not found")

// EventProjection is the storefront's read-optimized copy of a catalog
// event, addressed by the producer's business id.
type EventProjection struct {
	EventID    string
	Title      string
	Venue      string
	StartsAt   time.Time
	Capacity   int
	PriceCents int64
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

type EventProjectionRepository struct {
	pool *db.Pool
}

func NewEventProjectionRepository(pool *db.Pool) *EventProjectionRepository {
	return &EventProjectionRepository{pool: pool}
}

// Upsert makes EventCreated replay-safe: applying the same snapshot twice
// converges to the same row.
func (r *EventProjectionRepository) Upsert(ctx context.Context, p EventProjection) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_projections (event_id, title, venue, starts_at, capacity, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO UPDATE
		SET title = EXCLUDED.title,
			venue = EXCLUDED.venue,
			starts_at = EXCLUDED.starts_at,
			capacity = EXCLUDED.capacity,
			price_cents = EXCLUDED.price_cents,
			updated_at = now()
	`, p.EventID, p.Title, p.Venue, p.StartsAt, p.Capacity, p.PriceCents)
	return err
}

func (r *EventProjectionRepository) Update(ctx context.Context, p EventProjection) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_projections
		SET title = $2, venue = $3, starts_at = $4, capacity = $5, price_cents = $6, updated_at = now()
		WHERE event_id = $1 AND deleted_at IS NULL
	`, p.EventID, p.Title, p.Venue, p.StartsAt, p.Capacity, p.PriceCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EventProjectionRepository) Tombstone(ctx context.Context, eventID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_projections
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

func (r *EventProjectionRepository) Restore(ctx context.Context, eventID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_projections
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

// Exists reports whether a live (non-tombstoned) projection of the event is
// present. Order applies use it to decide whether the parent has arrived.
func (r *EventProjectionRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := r.pool.QueryRow(ctx, `
		SELECT 1 FROM event_projections
		WHERE event_id = $1 AND deleted_at IS NULL
	`, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *EventProjectionRepository) FindByEventID(ctx context.Context, eventID string) (*EventProjection, error) {
	var p EventProjection
	err := r.pool.QueryRow(ctx, `
		SELECT event_id, title, venue, starts_at, capacity, price_cents, updated_at, deleted_at
		FROM event_projections
		WHERE event_id = $1 AND deleted_at IS NULL
	`, eventID).Scan(&p.EventID, &p.Title, &p.Venue, &p.StartsAt, &p.Capacity, &p.PriceCents, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *EventProjectionRepository) ListActive(ctx context.Context) ([]EventProjection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, title, venue, starts_at, capacity, price_cents, updated_at, deleted_at
		FROM event_projections
		WHERE deleted_at IS NULL
		ORDER BY starts_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventProjection
	for rows.Next() {
		var p EventProjection
		if err := rows.Scan(&p.EventID, &p.Title, &p.Venue, &p.StartsAt, &p.Capacity, &p.PriceCents, &p.UpdatedAt, &p.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
