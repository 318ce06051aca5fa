package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/m-osmani/tickethub/libs/db"
)

// Notification is an audit row for every email attempt, sent or failed.
// order_id plus event_type is unique, so a redelivered event cannot mail
// the customer twice.
type Notification struct {
	OrderID   string
	EventID   string
	EventType string
	Recipient string
	Subject   string
	Status    string
}

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

type NotificationsRepository struct {
	pool *db.Pool
}

func NewNotificationsRepository(pool *db.Pool) *NotificationsRepository {
	return &NotificationsRepository{pool: pool}
}

// Insert returns false when this order/event_type combination was already
// recorded, which callers treat as "already notified".
func (r *NotificationsRepository) Insert(ctx context.Context, n Notification) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (order_id, event_id, event_type, recipient, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, event_type) DO NOTHING
	`, n.OrderID, n.EventID, n.EventType, n.Recipient, n.Subject, n.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NotificationsRepository) MarkSent(ctx context.Context, orderID, eventType string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $3, sent_at = now()
		WHERE order_id = $1 AND event_type = $2
	`, orderID, eventType, StatusSent)
	return err
}

// Status returns the recorded delivery status, or "" when no attempt was
// recorded for this order/event_type pair.
func (r *NotificationsRepository) Status(ctx context.Context, orderID, eventType string) (string, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT status FROM notifications
		WHERE order_id = $1 AND event_type = $2
	`, orderID, eventType).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return status, err
}

// RecipientFor returns the address a previous notification for this order
// went to, or "" when the order was never notified.
func (r *NotificationsRepository) RecipientFor(ctx context.Context, orderID string) (string, error) {
	var recipient string
	err := r.pool.QueryRow(ctx, `
		SELECT recipient FROM notifications
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID).Scan(&recipient)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return recipient, err
}

func (r *NotificationsRepository) MarkFailed(ctx context.Context, orderID, eventType, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $3, failure_reason = $4
		WHERE order_id = $1 AND event_type = $2
	`, orderID, eventType, StatusFailed, reason)
	return err
}
