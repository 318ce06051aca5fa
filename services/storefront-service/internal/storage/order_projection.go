package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
)

// OrderProjection mirrors an order from the producing side. LocalID is this
// store's own key; subsequent order events resolve through the
// order_id → LocalID correlation recorded at insert time.
type OrderProjection struct {
	LocalID       int64
	OrderID       string // producer's business id
	EventID       string
	CustomerEmail string
	Status        string
	AmountCents   int64
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type OrderProjectionRepository struct {
	pool *db.Pool
}

func NewOrderProjectionRepository(pool *db.Pool) *OrderProjectionRepository {
	return &OrderProjectionRepository{pool: pool}
}

// Insert records the order and returns the newly assigned local id. A
// replayed OrderCreated hits the unique order_id and returns the id the
// first delivery assigned, leaving the row unchanged.
func (r *OrderProjectionRepository) Insert(ctx context.Context, p OrderProjection) (int64, error) {
	var localID int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO order_projections (order_id, event_id, customer_email, status, amount_cents)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id
	`, p.OrderID, p.EventID, p.CustomerEmail, p.Status, p.AmountCents).Scan(&localID)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.LocalIDByOrderID(ctx, p.OrderID)
	}
	if err != nil {
		return 0, err
	}
	return localID, nil
}

// LocalIDByOrderID is the correlation lookup used by update and delete
// applies. Tombstoned rows still resolve: a late OrderUpdated for a
// cancelled order must find its row rather than look like a missing parent.
func (r *OrderProjectionRepository) LocalIDByOrderID(ctx context.Context, orderID string) (int64, error) {
	var localID int64
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM order_projections WHERE order_id = $1
	`, orderID).Scan(&localID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return localID, nil
}

func (r *OrderProjectionRepository) UpdateStatus(ctx context.Context, localID int64, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE order_projections
		SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, localID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderProjectionRepository) Tombstone(ctx context.Context, localID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE order_projections
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, localID)
	return err
}

func (r *OrderProjectionRepository) FindByOrderID(ctx context.Context, orderID string) (*OrderProjection, error) {
	var p OrderProjection
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, event_id, customer_email, status, amount_cents, updated_at, deleted_at
		FROM order_projections
		WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID).Scan(&p.LocalID, &p.OrderID, &p.EventID, &p.CustomerEmail, &p.Status, &p.AmountCents, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
