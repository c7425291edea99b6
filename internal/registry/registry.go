package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callsight/internal/calls"
)

var ErrNotFound = errors.New("registry: session not found")

// ErrEvicted rejects updates for a call the janitor already evicted. The
// provider can deliver recording or conference callbacks long after a call
// ended; once the retention window has passed, those must not re-create the
// session as a phantom live call.
var ErrEvicted = errors.New("registry: session evicted after retention")

// Update carries the fields an event wants merged into a session. Nil
// pointers mean "not present in this event"; a field absent from an update
// never blanks the stored value.
type Update struct {
	Status          *calls.CallStatus
	PhoneNumber     *string
	FromNumber      *string
	ToNumber        *string
	Direction       *calls.CallDirection
	DurationSeconds *int
	ConferenceID    *string
	RecordingID     *string
	RecordingURL    *string
	RecordingStatus *string
}

// Result is the outcome of one Upsert.
type Result struct {
	Session calls.Session

	// Created is true when this upsert brought the session into existence.
	Created bool

	// StaleStatus is true when the update carried a non-terminal status for
	// a session already in a terminal state. The status was not applied;
	// everything else in the update was.
	StaleStatus bool

	// BecameTerminal is true when this upsert moved the session into a
	// terminal state for the first time.
	BecameTerminal bool
}

type entry struct {
	mu sync.Mutex
	s  calls.Session

	// gone marks an entry the janitor has decided to evict. An upsert that
	// captured the pointer before the map delete sees the flag and retries,
	// landing on the tombstone instead of mutating a dangling entry.
	gone bool
}

// Registry is the in-memory source of truth for live call sessions.
//
// The outer map is guarded by mu; each session has its own lock so that
// concurrent upserts for the same call are serialized while different calls
// never contend with each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	// evicted remembers recently evicted call ids for one retention window
	// so late events cannot resurrect them.
	evicted map[string]time.Time

	retention time.Duration
	clock     func() time.Time
	log       *slog.Logger
	onEvict   func(callID string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithRetention sets how long terminal sessions are kept around to absorb
// late recording/conference callbacks before the janitor evicts them.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithEvictionHook registers a callback invoked with each evicted call id,
// outside the registry's locks. Downstream per-call state (coaching windows,
// strategy state) hangs its cleanup here.
func WithEvictionHook(hook func(callID string)) Option {
	return func(r *Registry) { r.onEvict = hook }
}

func New(log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		sessions:  make(map[string]*entry),
		evicted:   make(map[string]time.Time),
		retention: 15 * time.Minute,
		clock:     time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert creates the session if absent, otherwise merges the update into the
// existing session. Mutations for one call id are serialized; the returned
// snapshot is a copy the caller owns. Updates for a call the janitor already
// evicted return ErrEvicted until the tombstone ages out.
func (r *Registry) Upsert(callID string, u Update) (Result, error) {
	if callID == "" {
		return Result{}, errors.New("registry: call id is required")
	}

	for {
		r.mu.Lock()
		e, ok := r.sessions[callID]
		if !ok {
			if at, tombstoned := r.evicted[callID]; tombstoned && r.clock().UTC().Sub(at) < r.retention {
				r.mu.Unlock()
				return Result{}, ErrEvicted
			}
			e = &entry{s: calls.Session{
				CallID:    callID,
				Status:    calls.CallStatusIdle,
				IsActive:  true,
				StartTime: r.clock().UTC(),
			}}
			r.sessions[callID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.gone {
			// Lost the race with the janitor; retry lands on the tombstone.
			e.mu.Unlock()
			continue
		}
		res := r.applyLocked(e, u, !ok)
		e.mu.Unlock()
		return res, nil
	}
}

// applyLocked merges u into e. Caller holds e.mu.
func (r *Registry) applyLocked(e *entry, u Update, created bool) Result {
	res := Result{Created: created}
	now := r.clock().UTC()

	if u.PhoneNumber != nil {
		e.s.PhoneNumber = *u.PhoneNumber
	}
	if u.FromNumber != nil {
		e.s.FromNumber = *u.FromNumber
	}
	if u.ToNumber != nil {
		e.s.ToNumber = *u.ToNumber
	}
	if u.Direction != nil {
		e.s.Direction = *u.Direction
	}
	if u.DurationSeconds != nil {
		e.s.DurationSeconds = *u.DurationSeconds
	}
	if u.ConferenceID != nil {
		e.s.ConferenceID = *u.ConferenceID
	}
	if u.RecordingID != nil {
		e.s.RecordingID = *u.RecordingID
	}
	if u.RecordingURL != nil {
		e.s.RecordingURL = *u.RecordingURL
	}
	if u.RecordingStatus != nil {
		e.s.RecordingStatus = *u.RecordingStatus
	}

	if u.Status != nil {
		next := *u.Status
		switch {
		case e.s.Status.Terminal() && !next.Terminal():
			// Out-of-order delivery: a stale non-terminal status must not
			// resurrect a finished call.
			res.StaleStatus = true
			r.log.Warn("stale status ignored",
				"call_id", e.s.CallID, "current", e.s.Status, "stale", next)
		case e.s.Status.Terminal() && next.Terminal():
			// Duplicate terminal event: keep the first terminal status and
			// the EndTime it set.
		default:
			e.s.Status = next
			if next.Terminal() && e.s.EndTime == nil {
				end := now
				e.s.EndTime = &end
				res.BecameTerminal = true
			}
		}
	}

	e.s.IsActive = !e.s.Status.Terminal()
	e.s.UpdatedAt = now

	res.Session = e.s
	return res
}

// Get returns a copy of the session for callID.
func (r *Registry) Get(callID string) (calls.Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return calls.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, nil
}

// ListActive returns copies of all non-terminal sessions, oldest first.
func (r *Registry) ListActive() []calls.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]calls.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.s.IsActive {
			out = append(out, e.s)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Len reports the number of tracked sessions, active or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartJanitor periodically evicts sessions whose retention window has
// elapsed. It returns once ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictExpired()
			}
		}
	}()
}

// evictExpired removes two kinds of session: terminal ones whose retention
// window has elapsed, and idle ones that never progressed past creation (a
// non-status event for an unknown call, or a queued call the provider
// abandoned) and have gone one retention window without an update. Evicted
// ids are tombstoned so late events cannot resurrect them.
func (r *Registry) evictExpired() {
	now := r.clock().UTC()

	r.mu.RLock()
	entries := make(map[string]*entry, len(r.sessions))
	for id, e := range r.sessions {
		entries[id] = e
	}
	r.mu.RUnlock()

	var evictedIDs []string
	for id, e := range entries {
		e.mu.Lock()
		expired := !e.s.IsActive && e.s.EndTime != nil &&
			now.Sub(*e.s.EndTime) >= r.retention
		if !expired && e.s.Status == calls.CallStatusIdle {
			ref := e.s.UpdatedAt
			if ref.IsZero() {
				ref = e.s.StartTime
			}
			expired = now.Sub(ref) >= r.retention
		}
		if expired {
			e.gone = true
		}
		e.mu.Unlock()

		if !expired {
			continue
		}
		r.mu.Lock()
		if cur, ok := r.sessions[id]; ok && cur == e {
			delete(r.sessions, id)
			r.evicted[id] = now
		}
		r.mu.Unlock()
		r.log.Debug("session evicted", "call_id", id)
		evictedIDs = append(evictedIDs, id)
	}

	// Tombstones only need to outlive the retention window.
	r.mu.Lock()
	for id, at := range r.evicted {
		if now.Sub(at) >= r.retention {
			delete(r.evicted, id)
		}
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, id := range evictedIDs {
			r.onEvict(id)
		}
	}
}
