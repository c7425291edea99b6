package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callsight/internal/anomaly"
	"callsight/internal/calls"
	"callsight/internal/hub"
	"callsight/internal/observability"
	"callsight/internal/registry"
)

// Publisher is the broadcast surface the ingestion pipeline publishes into.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// FragmentAnalyzer consumes transcript fragments. Implementations publish
// their own results; failures are theirs to absorb.
type FragmentAnalyzer interface {
	OnFragment(ctx context.Context, frag calls.TranscriptFragment)
}

// RecordSink persists finalized call records downstream.
type RecordSink interface {
	UpsertCall(ctx context.Context, s calls.Session) error
}

// CallControl is the provider call-control capability used defensively when
// a call ends.
type CallControl interface {
	FetchCallStatus(ctx context.Context, callID string) (string, error)
	StopTranscription(ctx context.Context, callID string) error
}

// Service applies normalized events to the session registry, fans the result
// out, and dispatches transcript fragments to the analysis stages.
//
// The state merge and its publish are synchronous; analysis runs as an
// independent, time-bounded unit of work so a slow LLM call never blocks
// ingestion of the next webhook.
type Service struct {
	registry *registry.Registry
	pub      Publisher

	coach      FragmentAnalyzer
	strategist FragmentAnalyzer
	limiter    Limiter

	records   RecordSink
	control   CallControl
	anomalies *anomaly.Service

	analysisTimeout time.Duration
	finalizeTimeout time.Duration

	metrics *observability.Metrics
	log     *slog.Logger
}

type ServiceConfig struct {
	Registry   *registry.Registry
	Publisher  Publisher
	Coach      FragmentAnalyzer
	Strategist FragmentAnalyzer
	Limiter    Limiter
	Records    RecordSink
	Control    CallControl
	Anomalies  *anomaly.Service
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	// AnalysisTimeout bounds one coaching/strategy dispatch.
	AnalysisTimeout time.Duration
	// FinalizeTimeout bounds the record upsert + transcription stop that run
	// when a call reaches a terminal state.
	FinalizeTimeout time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		registry:        cfg.Registry,
		pub:             cfg.Publisher,
		coach:           cfg.Coach,
		strategist:      cfg.Strategist,
		limiter:         cfg.Limiter,
		records:         cfg.Records,
		control:         cfg.Control,
		anomalies:       cfg.Anomalies,
		analysisTimeout: cfg.AnalysisTimeout,
		finalizeTimeout: cfg.FinalizeTimeout,
		metrics:         cfg.Metrics,
		log:             log,
	}
	if s.analysisTimeout <= 0 {
		s.analysisTimeout = 20 * time.Second
	}
	if s.finalizeTimeout <= 0 {
		s.finalizeTimeout = 10 * time.Second
	}
	if s.limiter == nil {
		s.limiter = NewMemoryLimiter(0)
	}
	return s
}

// Handle applies one normalized event. Stale statuses are not errors: the
// provider retries rejected deliveries forever, so anything identifiable is
// acknowledged and anomalies are only logged.
func (s *Service) Handle(ctx context.Context, ev Event) error {
	if ev.CallID == "" {
		s.metrics.IncDropped("missing_call_id")
		s.log.Warn("event dropped, no call identifier", "kind", ev.Kind)
		_ = s.anomalies.Append(ctx, anomaly.Event{
			Type:    anomaly.EventTypeMissingCallID,
			Message: "event dropped: no call identifier",
		})
		return ErrMissingCallID
	}

	switch ev.Kind {
	case KindStatus:
		return s.handleStatus(ctx, ev)
	case KindRecording:
		return s.handleRecording(ctx, ev)
	case KindConference:
		return s.handleConference(ctx, ev)
	case KindTranscription:
		return s.handleTranscription(ctx, ev)
	default:
		s.metrics.IncDropped("unknown_kind")
		return ErrMalformed
	}
}

func (s *Service) handleStatus(ctx context.Context, ev Event) error {
	upd := registry.Update{
		DurationSeconds: ev.Status.DurationSeconds,
	}
	if ev.Status.Status != "" {
		st := ev.Status.Status
		upd.Status = &st
	}
	if ev.Status.From != "" {
		upd.FromNumber = &ev.Status.From
		upd.PhoneNumber = &ev.Status.From
	}
	if ev.Status.To != "" {
		upd.ToNumber = &ev.Status.To
	}
	if ev.Status.Direction != "" {
		d := ev.Status.Direction
		upd.Direction = &d
	}

	res, err := s.registry.Upsert(ev.CallID, upd)
	if errors.Is(err, registry.ErrEvicted) {
		s.dropLate(ctx, ev)
		return nil
	}
	if err != nil {
		return err
	}
	if res.StaleStatus {
		s.metrics.IncStaleStatus()
		_ = s.anomalies.Append(ctx, anomaly.Event{
			Type:    anomaly.EventTypeStaleStatus,
			CallID:  ev.CallID,
			Message: "non-terminal status after terminal state ignored",
		})
	}

	s.metrics.IncIngested(string(KindStatus))
	s.publishSnapshot(ev.CallID, "call-status", res.Session)
	s.metrics.SetActiveCalls(len(s.registry.ListActive()))

	if res.BecameTerminal {
		go s.finalizeCall(res.Session)
	}
	return nil
}

func (s *Service) handleRecording(ctx context.Context, ev Event) error {
	upd := registry.Update{}
	if ev.Recording.RecordingID != "" {
		upd.RecordingID = &ev.Recording.RecordingID
	}
	if ev.Recording.Status != "" {
		upd.RecordingStatus = &ev.Recording.Status
	}
	if ev.Recording.URL != "" {
		upd.RecordingURL = &ev.Recording.URL
	}

	res, err := s.registry.Upsert(ev.CallID, upd)
	if errors.Is(err, registry.ErrEvicted) {
		s.dropLate(ctx, ev)
		return nil
	}
	if err != nil {
		return err
	}

	s.metrics.IncIngested(string(KindRecording))
	s.publishSnapshot(ev.CallID, ev.Recording.SubEvent(), res.Session)
	return nil
}

func (s *Service) handleConference(ctx context.Context, ev Event) error {
	upd := registry.Update{}
	if ev.Conference.ConferenceID != "" {
		upd.ConferenceID = &ev.Conference.ConferenceID
	}

	res, err := s.registry.Upsert(ev.CallID, upd)
	if errors.Is(err, registry.ErrEvicted) {
		s.dropLate(ctx, ev)
		return nil
	}
	if err != nil {
		return err
	}

	s.metrics.IncIngested(string(KindConference))
	payload := conferencePayload{
		Session:          res.Session,
		ParticipantLabel: ev.Conference.ParticipantLabel,
	}
	event := "conference-" + ev.Conference.SubEvent
	s.pub.Publish(hub.TopicCall(ev.CallID), event, payload)
	s.pub.Publish(hub.TopicGlobal, event, payload)
	return nil
}

func (s *Service) handleTranscription(ctx context.Context, ev Event) error {
	frag := *ev.Transcription

	s.metrics.IncIngested(string(KindTranscription))
	s.pub.Publish(hub.TopicCall(ev.CallID), "transcript", frag)
	s.pub.Publish(hub.TopicGlobal, "transcript", frag)

	// Analysis is fire-and-forget relative to ingestion. The detached
	// context is deliberate: the webhook request finishing must not cancel
	// an in-flight LLM call.
	go s.analyze(frag)
	return nil
}

// dropLate absorbs an event for a call the registry janitor already evicted.
// Recording and conference callbacks can trail a call by well over the
// retention window; they must be acknowledged so the provider stops retrying,
// but they carry nothing the system still wants.
func (s *Service) dropLate(ctx context.Context, ev Event) {
	s.metrics.IncDropped("late_event")
	s.log.Warn("late event for evicted call dropped", "call_id", ev.CallID, "kind", ev.Kind)
	_ = s.anomalies.Append(ctx, anomaly.Event{
		Type:    anomaly.EventTypeLateEvent,
		CallID:  ev.CallID,
		Message: "event for evicted call dropped",
	})
}

type conferencePayload struct {
	Session          calls.Session `json:"session"`
	ParticipantLabel string        `json:"participant_label,omitempty"`
}

func (s *Service) publishSnapshot(callID, event string, snapshot calls.Session) {
	s.pub.Publish(hub.TopicCall(callID), event, snapshot)
	s.pub.Publish(hub.TopicGlobal, event, snapshot)
}

func (s *Service) analyze(frag calls.TranscriptFragment) {
	ctx, cancel := context.WithTimeout(context.Background(), s.analysisTimeout)
	defer cancel()

	ok, err := s.limiter.Acquire(ctx)
	if err != nil {
		s.log.Warn("analysis limiter unavailable", "call_id", frag.CallID, "err", err)
		s.metrics.IncAnalysis("dispatch", "limiter_error")
		return
	}
	if !ok {
		s.log.Debug("analysis skipped, concurrency cap reached", "call_id", frag.CallID)
		s.metrics.IncAnalysis("dispatch", "capped")
		return
	}
	defer s.limiter.Release(context.Background())

	start := time.Now()
	if s.coach != nil {
		s.coach.OnFragment(ctx, frag)
	}
	if s.strategist != nil {
		s.strategist.OnFragment(ctx, frag)
	}
	s.metrics.ObserveAnalysisLatency(time.Since(start))
}

// finalizeCall runs once per call, on its first terminal transition: the
// session is persisted downstream and live transcription is stopped. The
// provider's view of the call is checked first; if it still reports the call
// in progress the status event raced something and stopping would cut a live
// transcription short.
func (s *Service) finalizeCall(snapshot calls.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.finalizeTimeout)
	defer cancel()

	if s.records != nil {
		if err := s.records.UpsertCall(ctx, snapshot); err != nil {
			s.log.Error("call record upsert failed", "call_id", snapshot.CallID, "err", err)
		}
	}

	if s.control == nil {
		return
	}
	providerStatus, err := s.control.FetchCallStatus(ctx, snapshot.CallID)
	if err != nil {
		s.log.Warn("provider status fetch failed", "call_id", snapshot.CallID, "err", err)
		return
	}
	if calls.StatusFromProvider(providerStatus) == calls.CallStatusInProgress {
		s.log.Warn("provider still reports call in progress, not stopping transcription",
			"call_id", snapshot.CallID)
		return
	}
	if err := s.control.StopTranscription(ctx, snapshot.CallID); err != nil {
		s.log.Warn("stop transcription failed", "call_id", snapshot.CallID, "err", err)
	}
}
