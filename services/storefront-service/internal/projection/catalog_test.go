package projection

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/m-osmani/tickethub/libs/kafkax"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/storage"
)

type fakeEventStore struct {
	rows map[string]storage.EventProjection
	dead map[string]bool
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		rows: make(map[string]storage.EventProjection),
		dead: make(map[string]bool),
	}
}

func (f *fakeEventStore) Upsert(ctx context.Context, p storage.EventProjection) error {
	f.rows[p.EventID] = p
	f.dead[p.EventID] = false
	return nil
}

func (f *fakeEventStore) Update(ctx context.Context, p storage.EventProjection) error {
	if _, ok := f.rows[p.EventID]; !ok || f.dead[p.EventID] {
		return storage.ErrNotFound
	}
	f.rows[p.EventID] = p
	return nil
}

func (f *fakeEventStore) Tombstone(ctx context.Context, eventID string) error {
	if _, ok := f.rows[eventID]; !ok || f.dead[eventID] {
		return storage.ErrNotFound
	}
	f.dead[eventID] = true
	return nil
}

func (f *fakeEventStore) Restore(ctx context.Context, eventID string) error {
	if _, ok := f.rows[eventID]; !ok || !f.dead[eventID] {
		return storage.ErrNotFound
	}
	f.dead[eventID] = false
	return nil
}

func (f *fakeEventStore) Exists(ctx context.Context, eventID string) (bool, error) {
	_, ok := f.rows[eventID]
	return ok && !f.dead[eventID], nil
}

func catalogDispatcher(store *fakeEventStore) *Dispatcher {
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	NewCatalogProjector(store).RegisterAll(d)
	return d
}

func envelope(t *testing.T, eventType string, payload any) kafkax.Envelope {
	t.Helper()
	env, err := kafkax.NewEnvelope(eventType, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestApplyEventCreated_Idempotent(t *testing.T) {
	store := newFakeEventStore()
	d := catalogDispatcher(store)
	env := envelope(t, "EventCreated", map[string]any{"id": "E1", "title": "Demo", "capacity": 100})

	if err := d.Apply(context.Background(), env); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := d.Apply(context.Background(), env); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("projection has %d rows, want 1", len(store.rows))
	}
	if store.rows["E1"].Title != "Demo" {
		t.Fatalf("row = %+v", store.rows["E1"])
	}
}

func TestApplyEventUpdated_MissingRowIsRetryable(t *testing.T) {
	d := catalogDispatcher(newFakeEventStore())
	env := envelope(t, "EventUpdated", map[string]any{"id": "E1", "title": "Renamed"})

	err := d.Apply(context.Background(), env)
	if err == nil {
		t.Fatal("update of unprojected event must fail")
	}
	if !kafkax.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
}

func TestApplyEventDeleted_TombstonesAndIsRetryableWhenMissing(t *testing.T) {
	store := newFakeEventStore()
	d := catalogDispatcher(store)

	// Missing entity: retryable, never a crash.
	err := d.Apply(context.Background(), envelope(t, "EventDeleted", map[string]any{"id": "E1"}))
	if !kafkax.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable", err)
	}

	_ = d.Apply(context.Background(), envelope(t, "EventCreated", map[string]any{"id": "E1", "title": "Demo"}))
	if err := d.Apply(context.Background(), envelope(t, "EventDeleted", map[string]any{"id": "E1"})); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !store.dead["E1"] {
		t.Fatal("event should be tombstoned")
	}

	// The row is retained, only excluded from live reads.
	if _, kept := store.rows["E1"]; !kept {
		t.Fatal("tombstone must not remove the row")
	}
}

func TestApplyEventRestored_ClearsTombstone(t *testing.T) {
	store := newFakeEventStore()
	d := catalogDispatcher(store)

	_ = d.Apply(context.Background(), envelope(t, "EventCreated", map[string]any{"id": "E1", "title": "Demo"}))
	_ = d.Apply(context.Background(), envelope(t, "EventDeleted", map[string]any{"id": "E1"}))
	if err := d.Apply(context.Background(), envelope(t, "EventRestored", map[string]any{"id": "E1", "title": "Demo"})); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if store.dead["E1"] {
		t.Fatal("restore should clear the tombstone")
	}
}

func TestApply_MalformedPayloadIsPermanent(t *testing.T) {
	d := catalogDispatcher(newFakeEventStore())
	env := kafkax.Envelope{Type: "EventCreated", Payload: json.RawMessage(`{"title":"no id"}`)}

	err := d.Apply(context.Background(), env)
	if err == nil {
		t.Fatal("payload without id must fail")
	}
	if kafkax.IsRetryable(err) {
		t.Fatal("malformed payload is permanent, not retryable")
	}
}

func TestApply_UnknownTypeIsSkipped(t *testing.T) {
	d := catalogDispatcher(newFakeEventStore())
	env := kafkax.Envelope{Type: "SomethingElse", Payload: json.RawMessage(`{}`)}
	if err := d.Apply(context.Background(), env); err != nil {
		t.Fatalf("unknown type should be skipped, got %v", err)
	}
}
