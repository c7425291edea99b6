package records

import (
	"context"
	"errors"
	"time"

	"callsight/internal/calls"
)

var ErrNotFound = errors.New("records: call record not found")

// CallRecord is the persisted form of a finished call. It is written when a
// session reaches a terminal state and updated in place if late events (a
// delayed recording callback) change the session afterwards.
type CallRecord struct {
	CallID      string              `json:"call_id"`
	PhoneNumber string              `json:"phone_number,omitempty"`
	FromNumber  string              `json:"from_number,omitempty"`
	ToNumber    string              `json:"to_number,omitempty"`
	Direction   calls.CallDirection `json:"direction,omitempty"`

	Status          calls.CallStatus `json:"status"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	DurationSeconds int              `json:"duration"`

	RecordingURL string `json:"recording_url,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// FromSession maps a live session snapshot onto its persisted form.
func FromSession(s calls.Session) CallRecord {
	return CallRecord{
		CallID:          s.CallID,
		PhoneNumber:     s.PhoneNumber,
		FromNumber:      s.FromNumber,
		ToNumber:        s.ToNumber,
		Direction:       s.Direction,
		Status:          s.Status,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.DurationSeconds,
		RecordingURL:    s.RecordingURL,
		UpdatedAt:       s.UpdatedAt,
	}
}

// Store is the persistence contract for finished calls.
type Store interface {
	UpsertCall(ctx context.Context, s calls.Session) error
	GetCall(ctx context.Context, callID string) (CallRecord, error)
	ListCalls(ctx context.Context, from, to time.Time) ([]CallRecord, error)
}
