package records

import (
	"context"
	"testing"
	"time"

	"callsight/internal/calls"
)

func TestUpsertIsIdempotentPerCall(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	end := now.Add(42 * time.Second)

	sess := calls.Session{
		CallID:          "CA1",
		Status:          calls.CallStatusCompleted,
		StartTime:       now,
		EndTime:         &end,
		DurationSeconds: 42,
	}
	if err := store.UpsertCall(context.Background(), sess); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// A late recording callback updates the same record in place.
	sess.RecordingURL = "https://api.example.com/RE1.mp3"
	if err := store.UpsertCall(context.Background(), sess); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got, err := store.GetCall(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.RecordingURL == "" || got.DurationSeconds != 42 {
		t.Fatalf("unexpected record: %+v", got)
	}

	list, err := store.ListCalls(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("upsert created duplicates: %d", len(list))
	}
}

func TestGetCallNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetCall(context.Background(), "CA404"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCallsTimeWindow(t *testing.T) {
	store := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()

	for i, id := range []string{"CA1", "CA2", "CA3"} {
		_ = store.UpsertCall(context.Background(), calls.Session{
			CallID:    id,
			Status:    calls.CallStatusCompleted,
			StartTime: base.Add(time.Duration(i) * time.Hour),
		})
	}

	list, err := store.ListCalls(context.Background(), base, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(list))
	}
	if list[0].CallID != "CA2" {
		t.Fatalf("expected newest first, got %s", list[0].CallID)
	}
}
