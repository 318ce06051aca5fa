package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testPublisher(send func(ctx context.Context, topic string, rcd Record) error) *Publisher {
	return &Publisher{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		route: func(eventType string) string {
			if eventType == "OrderCreated" || eventType == "TICKET_BOUGHT" {
				return "orders.events"
			}
			return "catalog.events"
		},
		send: send,
	}
}

func record(id int64, eventType string, createdAt time.Time) Record {
	return Record{
		ID:          id,
		EventID:     "evt-" + eventType,
		AggregateID: "E1",
		EventType:   eventType,
		Payload:     []byte(`{"id":"E1"}`),
		CreatedAt:   createdAt,
	}
}

func TestPublishClaimed_FailingRowDoesNotBlockBatch(t *testing.T) {
	now := time.Now()
	records := []Record{
		record(1, "EventCreated", now),
		record(2, "EventUpdated", now.Add(time.Second)),
		record(3, "EventDeleted", now.Add(2*time.Second)),
	}

	p := testPublisher(func(ctx context.Context, topic string, rcd Record) error {
		if rcd.ID == 2 {
			return errors.New("broker unavailable for this partition")
		}
		return nil
	})

	published := p.publishClaimed(context.Background(), records)

	if len(published) != 2 {
		t.Fatalf("published %d rows, want 2", len(published))
	}
	if published[0] != 1 || published[1] != 3 {
		t.Fatalf("published ids = %v, want [1 3]", published)
	}
}

func TestPublishClaimed_PreservesBatchOrder(t *testing.T) {
	now := time.Now()
	var order []int64
	p := testPublisher(func(ctx context.Context, topic string, rcd Record) error {
		order = append(order, rcd.ID)
		return nil
	})

	p.publishClaimed(context.Background(), []Record{
		record(10, "EventCreated", now),
		record(11, "EventUpdated", now.Add(time.Second)),
		record(12, "EventUpdated", now.Add(2*time.Second)),
	})

	for i, id := range order {
		if id != int64(10+i) {
			t.Fatalf("publish order = %v, want ascending ids", order)
		}
	}
}

func TestPublishClaimed_RoutesByEventType(t *testing.T) {
	now := time.Now()
	topics := map[int64]string{}
	p := testPublisher(func(ctx context.Context, topic string, rcd Record) error {
		topics[rcd.ID] = topic
		return nil
	})

	p.publishClaimed(context.Background(), []Record{
		record(1, "EventCreated", now),
		record(2, "OrderCreated", now),
	})

	if topics[1] != "catalog.events" {
		t.Fatalf("EventCreated routed to %q", topics[1])
	}
	if topics[2] != "orders.events" {
		t.Fatalf("OrderCreated routed to %q", topics[2])
	}
}

func TestPublishClaimed_AllFailuresPublishNothing(t *testing.T) {
	p := testPublisher(func(ctx context.Context, topic string, rcd Record) error {
		return errors.New("no broker")
	})

	published := p.publishClaimed(context.Background(), []Record{
		record(1, "EventCreated", time.Now()),
	})
	if len(published) != 0 {
		t.Fatalf("published = %v, want none", published)
	}
}
