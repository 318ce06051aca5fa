package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/notification-service/internal/storage"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeSender struct {
	sent []sentMail
	fail error
}

func (f *fakeSender) Send(to, subject, body string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type auditRow struct {
	recipient string
	status    string
}

type fakeAudit struct {
	rows map[string]auditRow // keyed by orderID + "/" + eventType
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{rows: make(map[string]auditRow)}
}

func (f *fakeAudit) Insert(_ context.Context, n storage.Notification) (bool, error) {
	key := n.OrderID + "/" + n.EventType
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	f.rows[key] = auditRow{recipient: n.Recipient, status: n.Status}
	return true, nil
}

func (f *fakeAudit) Status(_ context.Context, orderID, eventType string) (string, error) {
	return f.rows[orderID+"/"+eventType].status, nil
}

func (f *fakeAudit) MarkSent(_ context.Context, orderID, eventType string) error {
	key := orderID + "/" + eventType
	row := f.rows[key]
	row.status = storage.StatusSent
	f.rows[key] = row
	return nil
}

func (f *fakeAudit) MarkFailed(_ context.Context, orderID, eventType, _ string) error {
	key := orderID + "/" + eventType
	row := f.rows[key]
	row.status = storage.StatusFailed
	f.rows[key] = row
	return nil
}

func (f *fakeAudit) RecipientFor(_ context.Context, orderID string) (string, error) {
	for key, row := range f.rows {
		if strings.HasPrefix(key, orderID+"/") {
			return row.recipient, nil
		}
	}
	return "", nil
}

func envelope(t *testing.T, eventType string, payload map[string]any) kafkax.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return kafkax.Envelope{Type: eventType, Payload: data}
}

func testNotifier(sender *fakeSender, audit *fakeAudit) *Notifier {
	return New(sender, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTicketBoughtSendsConfirmation(t *testing.T) {
	sender := &fakeSender{}
	audit := newFakeAudit()
	n := testNotifier(sender, audit)

	env := envelope(t, "TICKET_BOUGHT", map[string]any{
		"id":             "ord-1",
		"event_id":       "evt-1",
		"seat":           "B7",
		"customer_email": "alice@example.com",
		"price_cents":    5000,
	})
	if err := n.Apply(context.Background(), env); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(sender.sent))
	}
	mail := sender.sent[0]
	if mail.to != "alice@example.com" {
		t.Errorf("wrong recipient %q", mail.to)
	}
	if !strings.Contains(mail.body, "ord-1") || !strings.Contains(mail.body, "B7") {
		t.Errorf("body missing order details:\n%s", mail.body)
	}
	if status, _ := audit.Status(context.Background(), "ord-1", "TICKET_BOUGHT"); status != storage.StatusSent {
		t.Errorf("audit status = %q, want sent", status)
	}
}

func TestRedeliveryDoesNotMailTwice(t *testing.T) {
	sender := &fakeSender{}
	audit := newFakeAudit()
	n := testNotifier(sender, audit)

	env := envelope(t, "TICKET_BOUGHT", map[string]any{
		"id": "ord-1", "event_id": "evt-1", "customer_email": "alice@example.com",
	})
	for i := 0; i < 3; i++ {
		if err := n.Apply(context.Background(), env); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 mail after redelivery, got %d", len(sender.sent))
	}
}

func TestFailedSendIsRetryableAndRetriesSend(t *testing.T) {
	sender := &fakeSender{fail: errors.New("connection refused")}
	audit := newFakeAudit()
	n := testNotifier(sender, audit)

	env := envelope(t, "TICKET_BOUGHT", map[string]any{
		"id": "ord-1", "event_id": "evt-1", "customer_email": "alice@example.com",
	})
	err := n.Apply(context.Background(), env)
	if err == nil || !kafkax.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if status, _ := audit.Status(context.Background(), "ord-1", "TICKET_BOUGHT"); status != storage.StatusFailed {
		t.Errorf("audit status = %q, want failed", status)
	}

	// The redelivery finds the failed row and tries the send again.
	sender.fail = nil
	if err := n.Apply(context.Background(), env); err != nil {
		t.Fatalf("apply after recovery: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 mail after recovery, got %d", len(sender.sent))
	}
}

func TestCancellationUsesRecordedRecipient(t *testing.T) {
	sender := &fakeSender{}
	audit := newFakeAudit()
	n := testNotifier(sender, audit)

	bought := envelope(t, "TICKET_BOUGHT", map[string]any{
		"id": "ord-1", "event_id": "evt-1", "customer_email": "alice@example.com",
	})
	if err := n.Apply(context.Background(), bought); err != nil {
		t.Fatalf("apply bought: %v", err)
	}

	deleted := envelope(t, "OrderDeleted", map[string]any{"id": "ord-1"})
	if err := n.Apply(context.Background(), deleted); err != nil {
		t.Fatalf("apply deleted: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 mails, got %d", len(sender.sent))
	}
	if sender.sent[1].to != "alice@example.com" {
		t.Errorf("cancellation went to %q", sender.sent[1].to)
	}
	if !strings.Contains(sender.sent[1].subject, "cancelled") {
		t.Errorf("unexpected subject %q", sender.sent[1].subject)
	}
}

func TestCancellationForUnknownOrderIsSkipped(t *testing.T) {
	sender := &fakeSender{}
	n := testNotifier(sender, newFakeAudit())

	env := envelope(t, "OrderDeleted", map[string]any{"id": "ord-404"})
	if err := n.Apply(context.Background(), env); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(sender.sent))
	}
}

func TestIrrelevantEventTypesAreIgnored(t *testing.T) {
	sender := &fakeSender{}
	n := testNotifier(sender, newFakeAudit())

	env := envelope(t, "EventCreated", map[string]any{"id": "evt-1"})
	if err := n.Apply(context.Background(), env); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(sender.sent))
	}
}

func TestMissingRecipientIsPermanent(t *testing.T) {
	n := testNotifier(&fakeSender{}, newFakeAudit())

	env := envelope(t, "TICKET_BOUGHT", map[string]any{"id": "ord-1"})
	err := n.Apply(context.Background(), env)
	if err == nil {
		t.Fatal("expected an error")
	}
	if kafkax.IsRetryable(err) {
		t.Fatalf("expected permanent error, got retryable: %v", err)
	}
}
