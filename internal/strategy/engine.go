package strategy

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callsight/internal/calls"
	"callsight/internal/coaching"
	"callsight/internal/hub"
	"callsight/internal/observability"
)

// Requirement is one extracted customer need.
type Requirement struct {
	Text        string    `json:"text"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Strategy is the evolving summary of how the agent should run the call.
// It is replaced wholesale on every update, never merged field-by-field.
type Strategy struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtractResult is what one extractor invocation produced. Empty slices and
// strings mean "nothing new", which is a normal outcome.
type ExtractResult struct {
	Requirements []string
	Strategy     string
}

// Extractor is the external requirements-and-strategy model.
type Extractor interface {
	Extract(ctx context.Context, convo coaching.Conversation) (ExtractResult, error)
}

// Publisher is the broadcast surface strategy updates are published into.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// agentCadence is how many agent-final fragments may pass between extractor
// runs when the customer is not talking.
const agentCadence = 3

type callState struct {
	turns        []coaching.Turn
	requirements []Requirement
	seen         map[string]struct{}
	strategy     *Strategy
	agentFinals  int
}

// Engine owns all per-call strategy state. Requirements accumulate with
// normalized-text dedup; the strategy summary is replaced in full on each
// update. Nothing outside this package mutates the state.
type Engine struct {
	mu     sync.Mutex
	states map[string]*callState

	extractor Extractor
	pub       Publisher

	windowSize int

	metrics *observability.Metrics
	log     *slog.Logger
	clock   func() time.Time
}

type Option func(*Engine)

func WithWindowSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.windowSize = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(extractor Extractor, pub Publisher, metrics *observability.Metrics, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		states:     make(map[string]*callState),
		extractor:  extractor,
		pub:        pub,
		windowSize: 16,
		metrics:    metrics,
		log:        log,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnFragment feeds one transcript fragment into the engine. Extraction is
// opportunistic: it runs for every finalized customer fragment and every
// few finalized agent fragments, never for interim ones.
func (e *Engine) OnFragment(ctx context.Context, frag calls.TranscriptFragment) {
	if !frag.IsFinal || frag.Text == "" {
		return
	}

	convo, due := e.accumulate(frag)
	if !due {
		return
	}

	res, err := e.extractor.Extract(ctx, convo)
	if err != nil {
		e.metrics.IncAnalysis("strategy", "error")
		e.log.Warn("strategy extraction failed", "call_id", frag.CallID, "err", err)
		return
	}

	newReqs, updated := e.apply(frag.CallID, res)
	if len(newReqs) > 0 {
		e.metrics.IncAnalysis("strategy", "requirements")
		e.pub.Publish(hub.TopicStrategy(frag.CallID), "newClientRequirements", requirementsPayload{
			CallID:       frag.CallID,
			Requirements: newReqs,
		})
	}
	if updated != nil {
		e.metrics.IncAnalysis("strategy", "update")
		e.pub.Publish(hub.TopicStrategy(frag.CallID), "callStrategyUpdate", strategyPayload{
			CallID:   frag.CallID,
			Strategy: *updated,
		})
	}
	if len(newReqs) == 0 && updated == nil {
		e.metrics.IncAnalysis("strategy", "no_change")
	}
}

type requirementsPayload struct {
	CallID       string        `json:"call_id"`
	Requirements []Requirement `json:"requirements"`
}

type strategyPayload struct {
	CallID   string   `json:"call_id"`
	Strategy Strategy `json:"strategy"`
}

func (e *Engine) accumulate(frag calls.TranscriptFragment) (coaching.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(frag.CallID)
	st.turns = append(st.turns, coaching.Turn{Speaker: frag.Speaker, Text: frag.Text})
	if len(st.turns) > e.windowSize {
		st.turns = st.turns[len(st.turns)-e.windowSize:]
	}

	due := false
	if frag.Speaker == calls.SpeakerCustomer {
		due = true
		st.agentFinals = 0
	} else {
		st.agentFinals++
		if st.agentFinals >= agentCadence {
			due = true
			st.agentFinals = 0
		}
	}
	if !due {
		return coaching.Conversation{}, false
	}

	turns := make([]coaching.Turn, len(st.turns))
	copy(turns, st.turns)
	return coaching.Conversation{CallID: frag.CallID, Turns: turns}, true
}

// apply merges an extraction result into the call state and reports what was
// actually new.
func (e *Engine) apply(callID string, res ExtractResult) ([]Requirement, *Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(callID)
	now := e.clock().UTC()

	var newReqs []Requirement
	for _, text := range res.Requirements {
		norm := normalize(text)
		if norm == "" {
			continue
		}
		if _, dup := st.seen[norm]; dup {
			continue
		}
		st.seen[norm] = struct{}{}
		req := Requirement{Text: strings.TrimSpace(text), ExtractedAt: now}
		st.requirements = append(st.requirements, req)
		newReqs = append(newReqs, req)
	}

	var updated *Strategy
	if text := strings.TrimSpace(res.Strategy); text != "" {
		if st.strategy == nil || st.strategy.Text != text {
			st.strategy = &Strategy{Text: text, UpdatedAt: now}
			s := *st.strategy
			updated = &s
		}
	}

	return newReqs, updated
}

// state must be called with e.mu held.
func (e *Engine) state(callID string) *callState {
	st, ok := e.states[callID]
	if !ok {
		st = &callState{seen: make(map[string]struct{})}
		e.states[callID] = st
	}
	return st
}

// CurrentStrategy returns the latest strategy for a call, if any. It is
// side-effect free.
func (e *Engine) CurrentStrategy(callID string) (Strategy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[callID]
	if !ok || st.strategy == nil {
		return Strategy{}, false
	}
	return *st.strategy, true
}

// Requirements returns a copy of the accumulated requirements for a call,
// in extraction order.
func (e *Engine) Requirements(callID string) []Requirement {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[callID]
	if !ok {
		return nil
	}
	out := make([]Requirement, len(st.requirements))
	copy(out, st.requirements)
	return out
}

// Forget drops all state for a call, typically once it ends and its
// retention window has passed.
func (e *Engine) Forget(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, callID)
}

// normalize collapses a requirement to its comparable form: lower case,
// punctuation stripped, whitespace collapsed.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n':
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}
