package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callsight/internal/calls"
)

func statusPtr(s calls.CallStatus) *calls.CallStatus { return &s }
func strPtr(s string) *string                        { return &s }
func intPtr(n int) *int                              { return &n }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestUpsertCreatesSession(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	r := New(slog.Default(), WithClock(fixedClock(now)))

	res, err := r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusRinging)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Created {
		t.Fatalf("expected created")
	}
	if res.Session.Status != calls.CallStatusRinging || !res.Session.IsActive {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if !res.Session.StartTime.Equal(now) {
		t.Fatalf("expected start time %v, got %v", now, res.Session.StartTime)
	}
}

func TestUpsertMergeDoesNotBlankFields(t *testing.T) {
	r := New(slog.Default())
	_, _ = r.Upsert("CA1", Update{
		Status:     statusPtr(calls.CallStatusRinging),
		FromNumber: strPtr("+15551234567"),
		ToNumber:   strPtr("+15557654321"),
	})

	// A later event that omits the numbers must not clear them.
	res, err := r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusInProgress)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Session.FromNumber != "+15551234567" || res.Session.ToNumber != "+15557654321" {
		t.Fatalf("merge blanked fields: %+v", res.Session)
	}
	if res.Session.Status != calls.CallStatusInProgress {
		t.Fatalf("expected in-progress, got %q", res.Session.Status)
	}
}

func TestTerminalStatusIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := now
	r := New(slog.Default(), WithClock(func() time.Time { return clock }))

	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusInProgress)})

	first, err := r.Upsert("CA1", Update{
		Status:          statusPtr(calls.CallStatusCompleted),
		DurationSeconds: intPtr(42),
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if first.Session.EndTime == nil || !first.Session.EndTime.Equal(now) {
		t.Fatalf("expected end time set to %v, got %v", now, first.Session.EndTime)
	}

	// A duplicate terminal event later must not move EndTime.
	clock = now.Add(30 * time.Second)
	dup, err := r.Upsert("CA1", Update{
		Status:          statusPtr(calls.CallStatusCompleted),
		DurationSeconds: intPtr(42),
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if dup.Session.EndTime == nil || !dup.Session.EndTime.Equal(now) {
		t.Fatalf("duplicate terminal moved end time: %v", dup.Session.EndTime)
	}
	if dup.Session.IsActive {
		t.Fatalf("expected inactive")
	}
	if dup.Session.DurationSeconds != 42 {
		t.Fatalf("expected duration 42, got %d", dup.Session.DurationSeconds)
	}
}

func TestRegressionGuard(t *testing.T) {
	r := New(slog.Default())
	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusCompleted)})

	res, err := r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusRinging)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.StaleStatus {
		t.Fatalf("expected stale status flag")
	}
	if res.Session.IsActive || res.Session.Status != calls.CallStatusCompleted {
		t.Fatalf("stale event resurrected session: %+v", res.Session)
	}
}

func TestStaleEventStillMergesRecordingFields(t *testing.T) {
	r := New(slog.Default())
	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusCompleted)})

	// A late recording callback on a finished call must still land.
	res, _ := r.Upsert("CA1", Update{
		RecordingID:     strPtr("RE1"),
		RecordingURL:    strPtr("https://api.example.com/RE1.mp3"),
		RecordingStatus: strPtr("completed"),
	})
	if res.Session.RecordingID != "RE1" || res.Session.RecordingURL == "" {
		t.Fatalf("late recording fields not merged: %+v", res.Session)
	}
	if res.Session.IsActive {
		t.Fatalf("recording merge must not reactivate session")
	}
}

func TestPerCallIsolation(t *testing.T) {
	r := New(slog.Default())
	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusInProgress)})
	_, _ = r.Upsert("CA2", Update{Status: statusPtr(calls.CallStatusCompleted)})

	a, err := r.Get("CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !a.IsActive || a.Status != calls.CallStatusInProgress {
		t.Fatalf("CA2 event leaked into CA1: %+v", a)
	}
}

func TestGetNotFound(t *testing.T) {
	r := New(slog.Default())
	if _, err := r.Get("CA404"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveExcludesTerminal(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	clock := base
	r := New(slog.Default(), WithClock(func() time.Time { return clock }))

	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusRinging)})
	clock = base.Add(time.Second)
	_, _ = r.Upsert("CA2", Update{Status: statusPtr(calls.CallStatusInProgress)})
	clock = base.Add(2 * time.Second)
	_, _ = r.Upsert("CA3", Update{Status: statusPtr(calls.CallStatusFailed)})

	active := r.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
	if active[0].CallID != "CA1" || active[1].CallID != "CA2" {
		t.Fatalf("expected oldest-first ordering, got %s %s", active[0].CallID, active[1].CallID)
	}
}

func TestJanitorEvictsOnlyExpiredTerminal(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	clock := base
	r := New(slog.Default(),
		WithClock(func() time.Time { return clock }),
		WithRetention(10*time.Minute))

	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusCompleted)})
	_, _ = r.Upsert("CA2", Update{Status: statusPtr(calls.CallStatusInProgress)})

	clock = base.Add(5 * time.Minute)
	r.evictExpired()
	if r.Len() != 2 {
		t.Fatalf("evicted inside retention window")
	}

	clock = base.Add(11 * time.Minute)
	r.evictExpired()
	if r.Len() != 1 {
		t.Fatalf("expected 1 session after eviction, got %d", r.Len())
	}
	if _, err := r.Get("CA2"); err != nil {
		t.Fatalf("active session must survive eviction: %v", err)
	}
}

func TestLateEventAfterEvictionIsRejected(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	clock := base
	r := New(slog.Default(),
		WithClock(func() time.Time { return clock }),
		WithRetention(10*time.Minute))

	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusCompleted)})

	clock = base.Add(11 * time.Minute)
	r.evictExpired()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after eviction, got %d", r.Len())
	}

	// A recording callback arriving after eviction must not re-create the
	// session as an idle-but-active phantom.
	_, err := r.Upsert("CA1", Update{RecordingURL: strPtr("https://api.example.com/RE1.mp3")})
	if !errors.Is(err, ErrEvicted) {
		t.Fatalf("expected ErrEvicted, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("late event resurrected session")
	}
	if active := r.ListActive(); len(active) != 0 {
		t.Fatalf("evicted call showing as live: %+v", active)
	}
}

func TestJanitorEvictsStaleIdleSessions(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	clock := base
	r := New(slog.Default(),
		WithClock(func() time.Time { return clock }),
		WithRetention(10*time.Minute))

	// An orphan recording event creates an idle placeholder; if no status
	// event ever follows, the janitor must reap it after the retention window.
	_, _ = r.Upsert("CA1", Update{RecordingID: strPtr("RE1")})

	clock = base.Add(5 * time.Minute)
	r.evictExpired()
	if r.Len() != 1 {
		t.Fatalf("idle session evicted inside retention window")
	}

	clock = base.Add(11 * time.Minute)
	r.evictExpired()
	if r.Len() != 0 {
		t.Fatalf("stale idle session survived eviction, len=%d", r.Len())
	}
}

func TestEvictionHookReceivesEvictedCalls(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	clock := base
	var evicted []string
	r := New(slog.Default(),
		WithClock(func() time.Time { return clock }),
		WithRetention(10*time.Minute),
		WithEvictionHook(func(callID string) { evicted = append(evicted, callID) }))

	_, _ = r.Upsert("CA1", Update{Status: statusPtr(calls.CallStatusCompleted)})
	_, _ = r.Upsert("CA2", Update{Status: statusPtr(calls.CallStatusInProgress)})

	clock = base.Add(11 * time.Minute)
	r.evictExpired()

	if len(evicted) != 1 || evicted[0] != "CA1" {
		t.Fatalf("expected hook for CA1 only, got %v", evicted)
	}
}

func TestConcurrentUpsertsSameCall(t *testing.T) {
	r := New(slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := r.Upsert("CA1", Update{DurationSeconds: intPtr(n)})
			if err != nil {
				t.Errorf("upsert failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	s, err := r.Get("CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.CallID != "CA1" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestConcurrentUpsertsDistinctCalls(t *testing.T) {
	r := New(slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("CA%d", n)
			_, _ = r.Upsert(id, Update{Status: statusPtr(calls.CallStatusRinging)})
		}(i)
	}
	wg.Wait()

	if r.Len() != 20 {
		t.Fatalf("expected 20 sessions, got %d", r.Len())
	}
}
