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

type fakeSource struct {
	commits []kafka.Message
	closed  bool
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return kafka.Message{}, context.Canceled
}

func (f *fakeSource) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func testConsumer(src *fakeSource, policy AckPolicy, maxAttempts int, handler Handler) *Consumer {
	return &Consumer{
		source:       src,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		handler:      handler,
		policy:       policy,
		maxAttempts:  maxAttempts,
		retryBackoff: time.Millisecond,
	}
}

func testMessage() kafka.Message {
	return kafka.Message{
		Topic: "orders.events",
		Key:   []byte("O1"),
		Value: []byte(`{"type":"OrderCreated","payload":{"id":"O1"}}`),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-1")},
			{Key: "event_type", Value: []byte("OrderCreated")},
		},
	}
}

func TestHandleMessage_AckAfterApply_CommitsOnSuccess(t *testing.T) {
	src := &fakeSource{}
	calls := 0
	c := testConsumer(src, AckAfterApply, 3, func(ctx context.Context, msg kafka.Message) error {
		calls++
		return nil
	})

	c.handleMessage(context.Background(), testMessage())

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
	if len(src.commits) != 1 {
		t.Fatalf("committed %d messages, want 1", len(src.commits))
	}
}

func TestHandleMessage_RetryableExhaustsBudgetThenDeadLetters(t *testing.T) {
	src := &fakeSource{}
	calls := 0
	c := testConsumer(src, AckAfterApply, 3, func(ctx context.Context, msg kafka.Message) error {
		calls++
		return Retryable(errors.New("parent event not projected yet"))
	})
	var deadLettered []string
	c.deadLetter = func(ctx context.Context, msg kafka.Message, reason string) error {
		deadLettered = append(deadLettered, reason)
		return nil
	}

	c.handleMessage(context.Background(), testMessage())

	if calls != 3 {
		t.Fatalf("handler called %d times, want 3", calls)
	}
	if len(deadLettered) != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", len(deadLettered))
	}
	// The dead-lettered message is considered handled and must be acked.
	if len(src.commits) != 1 {
		t.Fatalf("committed %d messages, want 1", len(src.commits))
	}
}

func TestHandleMessage_PermanentErrorSkipsRetries(t *testing.T) {
	src := &fakeSource{}
	calls := 0
	c := testConsumer(src, AckAfterApply, 5, func(ctx context.Context, msg kafka.Message) error {
		calls++
		return errors.New("malformed payload")
	})
	deadLettered := 0
	c.deadLetter = func(ctx context.Context, msg kafka.Message, reason string) error {
		deadLettered++
		return nil
	}

	c.handleMessage(context.Background(), testMessage())

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1 (no retries for permanent errors)", calls)
	}
	if deadLettered != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", deadLettered)
	}
}

func TestHandleMessage_DeadLetterFailureLeavesMessageUnacked(t *testing.T) {
	src := &fakeSource{}
	c := testConsumer(src, AckAfterApply, 1, func(ctx context.Context, msg kafka.Message) error {
		return Retryable(errors.New("still failing"))
	})
	c.deadLetter = func(ctx context.Context, msg kafka.Message, reason string) error {
		return errors.New("dlq broker unavailable")
	}

	c.handleMessage(context.Background(), testMessage())

	if len(src.commits) != 0 {
		t.Fatalf("committed %d messages, want 0 (must stay unacked for redelivery)", len(src.commits))
	}
}

func TestDeadLetterTopicFollowsSourceTopic(t *testing.T) {
	cases := []struct {
		override string
		source   string
		want     string
	}{
		{"", "catalog.events", "catalog.events.dlq"},
		{"", "orders.events", "orders.events.dlq"},
		{"poison.events", "catalog.events", "poison.events"},
	}
	for _, tc := range cases {
		if got := deadLetterTopic(tc.override, tc.source); got != tc.want {
			t.Fatalf("deadLetterTopic(%q, %q) = %q, want %q", tc.override, tc.source, got, tc.want)
		}
	}
}

func TestHandleMessage_AckOnReceipt_CommitsBeforeHandling(t *testing.T) {
	src := &fakeSource{}
	committedBeforeHandler := false
	c := testConsumer(src, AckOnReceipt, 3, func(ctx context.Context, msg kafka.Message) error {
		committedBeforeHandler = len(src.commits) == 1
		return errors.New("send failed")
	})

	c.handleMessage(context.Background(), testMessage())

	if !committedBeforeHandler {
		t.Fatal("on_receipt must commit before the handler runs")
	}
	if len(src.commits) != 1 {
		t.Fatalf("committed %d messages, want 1", len(src.commits))
	}
}

func TestParseAckPolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    AckPolicy
		wantErr bool
	}{
		{"after_apply", AckAfterApply, false},
		{"on_receipt", AckOnReceipt, false},
		{"", AckAfterApply, false},
		{"sometimes", AckAfterApply, true},
	}
	for _, tc := range cases {
		got, err := ParseAckPolicy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseAckPolicy(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseAckPolicy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
