package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callsight/internal/calls"
)

// The provider delivers four webhook families: call status, recording
// lifecycle, conference membership, and live transcription. Payloads are
// form-encoded by default but may be JSON; field names are the provider's.
// Everything is normalized into the tagged union Event at this boundary so
// nothing downstream handles loosely-typed maps.

var (
	ErrMissingCallID = errors.New("ingest: event has no call identifier")
	ErrMalformed     = errors.New("ingest: malformed payload")
)

type Kind string

const (
	KindStatus        Kind = "status"
	KindRecording     Kind = "recording"
	KindConference    Kind = "conference"
	KindTranscription Kind = "transcription"
)

// Event is the normalized shape of one inbound notification. Exactly one of
// the kind-specific fields is set, matching Kind.
type Event struct {
	CallID     string
	Kind       Kind
	ReceivedAt time.Time

	Status        *StatusEvent
	Recording     *RecordingEvent
	Conference    *ConferenceEvent
	Transcription *calls.TranscriptFragment
}

// StatusEvent carries a call status change with whatever party and duration
// detail the provider included.
type StatusEvent struct {
	Status          calls.CallStatus
	From            string
	To              string
	Direction       calls.CallDirection
	DurationSeconds *int
}

// RecordingEvent carries a recording lifecycle change.
type RecordingEvent struct {
	RecordingID     string
	Status          string
	URL             string
	DurationSeconds *int
}

// SubEvent names the fanout event for this recording state.
func (e RecordingEvent) SubEvent() string {
	switch e.Status {
	case "in-progress", "processing":
		return "recording-started"
	case "completed":
		return "recording-completed"
	default:
		return "recording-failed"
	}
}

// ConferenceEvent carries conference membership changes. SubEvent is the
// provider's callback event name normalized to this core's vocabulary and is
// fanned out verbatim.
type ConferenceEvent struct {
	ConferenceID     string
	SubEvent         string
	ParticipantLabel string
}

// fields is the flattened view of a webhook body, independent of whether it
// arrived form-encoded or as JSON.
type fields map[string]string

func (f fields) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f[k]); v != "" {
			return v
		}
	}
	return ""
}

func (f fields) getInt(keys ...string) *int {
	raw := f.get(keys...)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

// parseBody flattens the request body. JSON bodies may nest one level
// (e.g. TranscriptionData); nested objects are re-encoded as JSON strings so
// family parsers can decode them when they care.
func parseBody(r *http.Request) (fields, error) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, ErrMalformed
		}
		f := make(fields, len(raw))
		for k, v := range raw {
			switch t := v.(type) {
			case string:
				f[k] = t
			case float64:
				f[k] = strconv.FormatFloat(t, 'f', -1, 64)
			case bool:
				f[k] = strconv.FormatBool(t)
			case nil:
				// skip
			default:
				enc, _ := json.Marshal(t)
				f[k] = string(enc)
			}
		}
		return f, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, ErrMalformed
	}
	f := make(fields, len(r.PostForm))
	for k := range r.PostForm {
		f[k] = r.PostForm.Get(k)
	}
	return f, nil
}

// ParseStatusEvent normalizes a call status callback.
func ParseStatusEvent(r *http.Request, now time.Time) (Event, error) {
	f, err := parseBody(r)
	if err != nil {
		return Event{}, err
	}
	callID := f.get("CallSid", "call_sid", "call_id")
	if callID == "" {
		return Event{}, ErrMissingCallID
	}

	se := &StatusEvent{
		From:            f.get("From", "from"),
		To:              f.get("To", "to"),
		Direction:       calls.DirectionFromProvider(f.get("Direction", "direction")),
		DurationSeconds: f.getInt("CallDuration", "Duration", "duration"),
	}
	se.Status = calls.StatusFromProvider(f.get("CallStatus", "call_status", "status"))

	return Event{
		CallID:     callID,
		Kind:       KindStatus,
		ReceivedAt: now,
		Status:     se,
	}, nil
}

// ParseRecordingEvent normalizes a recording status callback.
func ParseRecordingEvent(r *http.Request, now time.Time) (Event, error) {
	f, err := parseBody(r)
	if err != nil {
		return Event{}, err
	}
	callID := f.get("CallSid", "call_sid", "call_id")
	if callID == "" {
		return Event{}, ErrMissingCallID
	}

	return Event{
		CallID:     callID,
		Kind:       KindRecording,
		ReceivedAt: now,
		Recording: &RecordingEvent{
			RecordingID:     f.get("RecordingSid", "recording_sid", "recording_id"),
			Status:          f.get("RecordingStatus", "recording_status"),
			URL:             f.get("RecordingUrl", "recording_url"),
			DurationSeconds: f.getInt("RecordingDuration", "recording_duration"),
		},
	}, nil
}

// conference callback event names as the provider sends them.
var conferenceSubEvents = map[string]string{
	"conference-start":  "start",
	"conference-end":    "end",
	"participant-join":  "participant-join",
	"participant-leave": "participant-leave",
}

// ParseConferenceEvent normalizes a conference status callback. Start/end
// callbacks that carry no call leg cannot be routed to a topic and are
// rejected like any other unidentifiable event.
func ParseConferenceEvent(r *http.Request, now time.Time) (Event, error) {
	f, err := parseBody(r)
	if err != nil {
		return Event{}, err
	}
	callID := f.get("CallSid", "call_sid", "call_id")
	if callID == "" {
		return Event{}, ErrMissingCallID
	}

	sub := f.get("StatusCallbackEvent", "conference_event", "event")
	if mapped, ok := conferenceSubEvents[sub]; ok {
		sub = mapped
	}

	return Event{
		CallID:     callID,
		Kind:       KindConference,
		ReceivedAt: now,
		Conference: &ConferenceEvent{
			ConferenceID:     f.get("ConferenceSid", "conference_sid", "conference_id"),
			SubEvent:         sub,
			ParticipantLabel: f.get("ParticipantLabel", "participant_label"),
		},
	}, nil
}

// transcriptionData is the nested JSON blob inside live transcription
// callbacks.
type transcriptionData struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// ParseTranscriptionEvent normalizes a live transcription callback into a
// transcript fragment. The provider labels channels, not people: the inbound
// track is the customer, the outbound track the agent.
func ParseTranscriptionEvent(r *http.Request, now time.Time) (Event, error) {
	f, err := parseBody(r)
	if err != nil {
		return Event{}, err
	}
	callID := f.get("CallSid", "call_sid", "call_id")
	if callID == "" {
		return Event{}, ErrMissingCallID
	}

	frag := &calls.TranscriptFragment{
		CallID:    callID,
		Text:      f.get("Transcript", "transcript", "text"),
		IsFinal:   strings.EqualFold(f.get("Final", "final", "is_final"), "true"),
		Timestamp: now,
	}

	if raw := f.get("TranscriptionData", "transcription_data"); raw != "" {
		var td transcriptionData
		if err := json.Unmarshal([]byte(raw), &td); err == nil {
			if td.Transcript != "" {
				frag.Text = td.Transcript
			}
			frag.Confidence = td.Confidence
		}
	}

	switch f.get("Track", "track", "speaker") {
	case "outbound_track", "outbound", "agent":
		frag.Speaker = calls.SpeakerAgent
	default:
		frag.Speaker = calls.SpeakerCustomer
	}

	return Event{
		CallID:        callID,
		Kind:          KindTranscription,
		ReceivedAt:    now,
		Transcription: frag,
	}, nil
}
