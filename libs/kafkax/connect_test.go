package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeConn struct {
	created []kafka.TopicConfig
}

func (f *fakeConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}

func (f *fakeConn) CreateTopics(topics ...kafka.TopicConfig) error {
	f.created = append(f.created, topics...)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func TestConnect_ExhaustsRetryBudget(t *testing.T) {
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), ConnectConfig{
		Brokers:     "kafka:9092",
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	})
	dials := 0
	c.dial = func(ctx context.Context, addr string) (brokerConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	err := c.Connect(context.Background(), "catalog.events")
	if err == nil {
		t.Fatal("Connect should fail when the broker never answers")
	}
	if dials != 3 {
		t.Fatalf("dialed %d times, want 3", dials)
	}
	if p := c.Publisher(); p.Publish(context.Background(), "catalog.events", "E1", "evt-1", Envelope{Type: "EventCreated"}) != ErrNotConnected {
		t.Fatal("publishing without a connection must fail with ErrNotConnected")
	}
}

func TestConnect_DeclaresTopics(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), ConnectConfig{Brokers: "kafka:9092"})
	c.dial = func(ctx context.Context, addr string) (brokerConn, error) {
		return conn, nil
	}

	if err := c.Connect(context.Background(), "catalog.events", "orders.events"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(conn.created) != 2 {
		t.Fatalf("declared %d topics, want 2", len(conn.created))
	}
	if conn.created[0].Topic != "catalog.events" || conn.created[1].Topic != "orders.events" {
		t.Fatalf("unexpected topics declared: %+v", conn.created)
	}
}

func TestConnect_RecoversWithinBudget(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), ConnectConfig{
		Brokers:     "kafka:9092",
		MaxAttempts: 5,
		Backoff:     time.Millisecond,
	})
	dials := 0
	c.dial = func(ctx context.Context, addr string) (brokerConn, error) {
		dials++
		if dials <= 2 {
			return nil, errors.New("broker still starting")
		}
		return conn, nil
	}

	if err := c.Connect(context.Background(), "catalog.events"); err != nil {
		t.Fatalf("Connect should recover while budget remains: %v", err)
	}
}
