package anomaly

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable, append-only record of an ingestion anomaly:
// a stale out-of-order status, an event without a call identifier, or a
// payload that could not be decoded.
//
// Anomalies are operator-facing diagnostics. Recording one must never block
// or fail the ingestion path that detected it.

type Event struct {
	ID     string `json:"id"`
	CallID string `json:"call_id,omitempty"`

	Type EventType `json:"type"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	// Metadata is optional JSON with full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeStaleStatus   EventType = "stale_status"
	EventTypeMissingCallID EventType = "missing_call_id"
	EventTypeMalformed     EventType = "malformed_payload"
	EventTypeLateEvent     EventType = "late_event"
)

var ErrInvalidEvent = errors.New("anomaly: invalid event")

// Repository is the persistence contract for anomaly events.
// It is append-only by design; no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// MemoryRepo is a bounded in-memory append-only repository. The cap keeps a
// misbehaving provider from growing the log without bound.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

func NewMemoryRepo(capacity int) *MemoryRepo {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRepo{cap: capacity}
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
