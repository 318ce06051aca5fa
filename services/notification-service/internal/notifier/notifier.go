package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/notification-service/internal/email"
	"github.com/m-osmani/tickethub/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// AuditStore records every mail attempt. Insert doubles as the dedup gate:
// it reports false for an order/event_type pair that was already handled.
type AuditStore interface {
	Insert(ctx context.Context, n storage.Notification) (bool, error)
	Status(ctx context.Context, orderID, eventType string) (string, error)
	MarkSent(ctx context.Context, orderID, eventType string) error
	MarkFailed(ctx context.Context, orderID, eventType, reason string) error
	RecipientFor(ctx context.Context, orderID string) (string, error)
}

// Notifier is the terminal consumer of the order stream. It mails customers
// and keeps an audit trail; it produces no events of its own.
type Notifier struct {
	sender email.Sender
	audit  AuditStore
	logger *slog.Logger
}

func New(sender email.Sender, audit AuditStore, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, audit: audit, logger: logger}
}

func (n *Notifier) Handler() kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := kafkax.DecodeEnvelope(msg.Value)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		return n.Apply(ctx, env)
	}
}

func (n *Notifier) Apply(ctx context.Context, env kafkax.Envelope) error {
	switch env.Type {
	case "TICKET_BOUGHT", "OrderCreated":
		return n.confirm(ctx, env)
	case "OrderDeleted":
		return n.cancel(ctx, env)
	default:
		n.logger.Debug("event type not mailed", "event_type", env.Type)
		return nil
	}
}

type orderPayload struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	Seat          string `json:"seat"`
	CustomerEmail string `json:"customer_email"`
	PriceCents    int64  `json:"price_cents"`
	AmountCents   int64  `json:"amount_cents"`
}

func (p orderPayload) amount() int64 {
	if p.PriceCents > 0 {
		return p.PriceCents
	}
	return p.AmountCents
}

func (n *Notifier) confirm(ctx context.Context, env kafkax.Envelope) error {
	var p orderPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	if p.ID == "" || p.CustomerEmail == "" {
		return fmt.Errorf("order payload missing id or customer_email")
	}

	subject, body := email.ComposeConfirmation(email.Confirmation{
		OrderID:     p.ID,
		EventID:     p.EventID,
		Seat:        p.Seat,
		AmountCents: p.amount(),
	})
	return n.deliver(ctx, p.ID, p.EventID, env.Type, p.CustomerEmail, subject, body)
}

func (n *Notifier) cancel(ctx context.Context, env kafkax.Envelope) error {
	var p orderPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("order payload missing id")
	}

	// OrderDeleted carries only the order id. The earlier confirmation's
	// audit row tells us who to mail; an order we never notified is skipped.
	recipient, err := n.audit.RecipientFor(ctx, p.ID)
	if err != nil {
		return kafkax.Retryable(fmt.Errorf("recipient lookup: %w", err))
	}
	if recipient == "" {
		n.logger.Debug("no prior notification for cancelled order", "order_id", p.ID)
		return nil
	}

	subject, body := email.ComposeCancellation(p.ID)
	return n.deliver(ctx, p.ID, p.EventID, env.Type, recipient, subject, body)
}

func (n *Notifier) deliver(ctx context.Context, orderID, eventID, eventType, recipient, subject, body string) error {
	fresh, err := n.audit.Insert(ctx, storage.Notification{
		OrderID:   orderID,
		EventID:   eventID,
		EventType: eventType,
		Recipient: recipient,
		Subject:   subject,
		Status:    storage.StatusPending,
	})
	if err != nil {
		return kafkax.Retryable(fmt.Errorf("notification audit: %w", err))
	}
	if !fresh {
		// A row already exists. Only a sent row means the customer was
		// mailed; pending or failed means an earlier attempt died and this
		// delivery should try again.
		status, err := n.audit.Status(ctx, orderID, eventType)
		if err != nil {
			return kafkax.Retryable(fmt.Errorf("notification audit: %w", err))
		}
		if status == storage.StatusSent {
			n.logger.Debug("order already notified", "order_id", orderID, "event_type", eventType)
			return nil
		}
	}

	if err := n.sender.Send(recipient, subject, body); err != nil {
		n.logger.Error("email send failed", "err", err, "order_id", orderID, "recipient", recipient)
		if auditErr := n.audit.MarkFailed(ctx, orderID, eventType, err.Error()); auditErr != nil {
			n.logger.Error("notification audit update failed", "err", auditErr, "order_id", orderID)
		}
		return kafkax.Retryable(fmt.Errorf("smtp send: %w", err))
	}

	if err := n.audit.MarkSent(ctx, orderID, eventType); err != nil {
		n.logger.Error("notification audit update failed", "err", err, "order_id", orderID)
	}
	n.logger.Info("notification sent", "order_id", orderID, "event_type", eventType, "recipient", recipient)
	return nil
}
