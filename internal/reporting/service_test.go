package reporting

import (
	"context"
	"testing"
	"time"

	"callsight/internal/calls"
	"callsight/internal/records"
)

func seedStore(t *testing.T, base time.Time) *records.MemoryStore {
	t.Helper()
	store := records.NewMemoryStore()
	end := base.Add(90 * time.Second)

	sessions := []calls.Session{
		{CallID: "CA1", Direction: calls.DirectionInbound, Status: calls.CallStatusCompleted, StartTime: base, EndTime: &end, DurationSeconds: 90, RecordingURL: "https://api.example.com/RE1.mp3"},
		{CallID: "CA2", Direction: calls.DirectionInbound, Status: calls.CallStatusBusy, StartTime: base.Add(time.Minute)},
		{CallID: "CA3", Direction: calls.DirectionOutbound, Status: calls.CallStatusFailed, StartTime: base.Add(2 * time.Minute)},
		{CallID: "CA4", Direction: calls.DirectionOutbound, Status: calls.CallStatusCompleted, StartTime: base.Add(3 * time.Hour), DurationSeconds: 30},
	}
	for _, sess := range sessions {
		if err := store.UpsertCall(context.Background(), sess); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return store
}

func TestCallsSummaryAggregates(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	svc := NewService(seedStore(t, base))

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Range: TimeRange{From: base.Add(-time.Hour), To: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// CA4 starts outside the window.
	if out.TotalCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", out.TotalCalls)
	}
	if out.CompletedCalls != 1 || out.BusyCalls != 1 || out.FailedCalls != 1 {
		t.Fatalf("unexpected status buckets: %+v", out)
	}
	if out.InboundCalls != 2 || out.OutboundCalls != 1 {
		t.Fatalf("unexpected direction buckets: %+v", out)
	}
	if out.RecordedCalls != 1 {
		t.Fatalf("expected 1 recorded call, got %d", out.RecordedCalls)
	}
	if out.TotalDurationSeconds != 90 || out.AverageDurationSeconds != 30 {
		t.Fatalf("unexpected durations: %+v", out)
	}
}

func TestCallsSummaryRejectsBadRange(t *testing.T) {
	svc := NewService(records.NewMemoryStore())
	now := time.Now()

	cases := []TimeRange{
		{},
		{From: now},
		{From: now, To: now},
		{From: now, To: now.Add(-time.Minute)},
	}
	for _, rng := range cases {
		if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: rng}); err != ErrInvalidRequest {
			t.Fatalf("range %+v: expected ErrInvalidRequest, got %v", rng, err)
		}
	}
}

func TestCallsSummaryEmptyWindow(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	svc := NewService(seedStore(t, base))

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Range: TimeRange{From: base.Add(24 * time.Hour), To: base.Add(48 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 0 || out.AverageDurationSeconds != 0 {
		t.Fatalf("expected empty summary, got %+v", out)
	}
}
