package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"callsight/internal/calls"
)

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]CallRecord)}
}

func (s *MemoryStore) UpsertCall(ctx context.Context, sess calls.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sess.CallID] = FromSession(sess)
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range s.records {
		if rec.StartTime.Before(from) || !rec.StartTime.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}
