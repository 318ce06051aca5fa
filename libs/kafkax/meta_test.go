package kafkax

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitBrokers = %v, want %v", got, want)
	}
	if SplitBrokers("") != nil {
		t.Fatal("empty broker list should be nil")
	}
}

func TestExtractEventMeta_FallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "catalog.events", Key: []byte("E1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "E1" || meta.EventType != "catalog.events" {
		t.Fatalf("meta = %+v", meta)
	}

	msg.Headers = []kafka.Header{
		{Key: "event_id", Value: []byte("evt-42")},
		{Key: "event_type", Value: []byte("EventUpdated")},
	}
	meta = ExtractEventMeta(msg)
	if meta.EventID != "evt-42" || meta.EventType != "EventUpdated" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestRetryableClassification(t *testing.T) {
	base := errors.New("event E9 not in projection")
	if IsRetryable(base) {
		t.Fatal("plain errors are permanent")
	}
	r := Retryable(base)
	if !IsRetryable(r) {
		t.Fatal("Retryable-wrapped error must classify as retryable")
	}
	if !errors.Is(r, base) {
		t.Fatal("wrapping must preserve the cause")
	}
	wrapped := fmt.Errorf("apply OrderCreated: %w", r)
	if !IsRetryable(wrapped) {
		t.Fatal("classification must survive further wrapping")
	}
	if Retryable(nil) != nil {
		t.Fatal("Retryable(nil) must be nil")
	}
}
