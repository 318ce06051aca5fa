package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/model"
)

type OrderRepository struct {
	pool *db.Pool
}

func NewOrderRepository(pool *db.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *OrderRepository) Insert(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	return tx.QueryRow(ctx, `
		INSERT INTO orders (order_id, event_id, ticket_id, customer_email, status, amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, o.ID, o.EventID, o.TicketID, o.CustomerEmail, o.Status, o.AmountCents).
		Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, orderID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderRepository) SoftDelete(ctx context.Context, tx pgx.Tx, orderID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET deleted_at = now(), updated_at = now()
		WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := r.pool.QueryRow(ctx, `
		SELECT order_id, event_id, ticket_id, customer_email, status, amount_cents, created_at, updated_at, deleted_at
		FROM orders
		WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID).Scan(
		&o.ID, &o.EventID, &o.TicketID, &o.CustomerEmail, &o.Status, &o.AmountCents,
		&o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
