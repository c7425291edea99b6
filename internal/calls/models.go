package calls

import "time"

// Session is the authoritative live-state record for one phone call.
//
// CallID is the provider-assigned identifier and is immutable once the
// session exists. IsActive is always derived from Status via Status.Terminal;
// it is never stored independently.
//
// Sessions are owned by the registry and mutated only through its Upsert
// contract; everything handed out of the registry is a copy.

type Session struct {
	CallID string `json:"call_id"`

	PhoneNumber string        `json:"phone_number,omitempty"`
	FromNumber  string        `json:"from_number,omitempty"`
	ToNumber    string        `json:"to_number,omitempty"`
	Direction   CallDirection `json:"direction,omitempty"`

	Status   CallStatus `json:"status"`
	IsActive bool       `json:"is_active"`

	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int        `json:"duration,omitempty"`

	ConferenceID string `json:"conference_id,omitempty"`

	RecordingID     string `json:"recording_id,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`
	RecordingStatus string `json:"recording_status,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

type CallStatus string

const (
	CallStatusIdle       CallStatus = "idle"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether no further legitimate transition exists.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusIdle, CallStatusRinging, CallStatusInProgress,
		CallStatusCompleted, CallStatusBusy, CallStatusFailed:
		return true
	default:
		return false
	}
}

// StatusFromProvider maps a provider status string onto the internal enum.
// Provider states that mean "the call will never connect" (no-answer,
// canceled) collapse into failed. Unknown strings map to "", which callers
// must treat as no status present.
func StatusFromProvider(raw string) CallStatus {
	switch raw {
	case "queued", "initiated":
		return CallStatusIdle
	case "ringing":
		return CallStatusRinging
	case "in-progress", "answered":
		return CallStatusInProgress
	case "completed":
		return CallStatusCompleted
	case "busy":
		return CallStatusBusy
	case "failed", "no-answer", "canceled":
		return CallStatusFailed
	default:
		return ""
	}
}

// DirectionFromProvider normalizes provider direction strings.
// Twilio reports outbound legs as "outbound-api" / "outbound-dial".
func DirectionFromProvider(raw string) CallDirection {
	switch raw {
	case "inbound":
		return DirectionInbound
	case "outbound", "outbound-api", "outbound-dial":
		return DirectionOutbound
	default:
		return ""
	}
}

// Speaker attributes a transcript fragment to a side of the call.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

// TranscriptFragment is one interim or finalized utterance segment.
// Fragments are ephemeral: they feed the coaching and strategy pipelines
// and are not retained by the session registry.
type TranscriptFragment struct {
	CallID     string    `json:"call_id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
