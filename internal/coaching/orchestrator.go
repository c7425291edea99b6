package coaching

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callsight/internal/calls"
	"callsight/internal/hub"
	"callsight/internal/observability"
)

// Tip is one piece of coaching advice for the agent on a call.
type Tip struct {
	CallID    string    `json:"call_id"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one finalized utterance inside the rolling conversational context.
type Turn struct {
	Speaker calls.Speaker `json:"speaker"`
	Text    string        `json:"text"`
}

// Conversation is the context handed to the generator.
type Conversation struct {
	CallID string
	Turns  []Turn
}

// Generator is the external coaching model. Returning (nil, nil) means "no
// tip for this segment" and is a normal outcome, not a failure.
type Generator interface {
	Generate(ctx context.Context, convo Conversation) (*Tip, error)
}

// Publisher is the broadcast surface tips are published into.
type Publisher interface {
	Publish(topic, event string, payload any)
}

type window struct {
	turns        []Turn
	pendingDelta int
}

// Orchestrator keeps a short rolling window of finalized fragments per call
// and invokes the generator only when enough new conversation has
// accumulated since the last invocation. Generator failures are absorbed
// here; they never propagate into the ingestion path.
type Orchestrator struct {
	mu      sync.Mutex
	windows map[string]*window

	gen Generator
	pub Publisher

	windowSize int
	minDelta   int

	metrics *observability.Metrics
	log     *slog.Logger
	clock   func() time.Time
}

type Option func(*Orchestrator)

// WithWindowSize bounds how many turns of context are kept per call.
func WithWindowSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.windowSize = n
		}
	}
}

// WithMinDelta sets how many characters of new finalized text must
// accumulate before the generator is invoked again.
func WithMinDelta(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.minDelta = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func New(gen Generator, pub Publisher, metrics *observability.Metrics, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		windows:    make(map[string]*window),
		gen:        gen,
		pub:        pub,
		windowSize: 12,
		minDelta:   24,
		metrics:    metrics,
		log:        log,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnFragment feeds one transcript fragment into the orchestrator. Interim
// fragments only exist to be superseded; they never count toward the delta.
func (o *Orchestrator) OnFragment(ctx context.Context, frag calls.TranscriptFragment) {
	if !frag.IsFinal || frag.Text == "" {
		return
	}

	convo, ready := o.accumulate(frag)
	if !ready {
		return
	}

	tip, err := o.gen.Generate(ctx, convo)
	if err != nil {
		o.metrics.IncAnalysis("coaching", "error")
		o.log.Warn("coaching generation failed", "call_id", frag.CallID, "err", err)
		return
	}
	if tip == nil || tip.Message == "" {
		o.metrics.IncAnalysis("coaching", "no_tip")
		return
	}

	tip.CallID = frag.CallID
	if tip.Timestamp.IsZero() {
		tip.Timestamp = o.clock().UTC()
	}

	o.metrics.IncAnalysis("coaching", "tip")
	// Dual publish: the call topic for scoped viewers, the global topic for
	// list views that have not resolved a call topic yet.
	o.pub.Publish(hub.TopicCall(frag.CallID), "coaching-tip", *tip)
	o.pub.Publish(hub.TopicGlobal, "coaching-tip", *tip)
}

// accumulate appends the fragment to the call's window and reports whether
// the delta since the last generator invocation is worth a new call. When it
// is, the pending delta resets immediately so concurrent fragments do not
// trigger duplicate invocations for the same delta.
func (o *Orchestrator) accumulate(frag calls.TranscriptFragment) (Conversation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.windows[frag.CallID]
	if !ok {
		w = &window{}
		o.windows[frag.CallID] = w
	}

	w.turns = append(w.turns, Turn{Speaker: frag.Speaker, Text: frag.Text})
	if len(w.turns) > o.windowSize {
		w.turns = w.turns[len(w.turns)-o.windowSize:]
	}
	w.pendingDelta += len(frag.Text)

	if w.pendingDelta < o.minDelta {
		return Conversation{}, false
	}
	w.pendingDelta = 0

	turns := make([]Turn, len(w.turns))
	copy(turns, w.turns)
	return Conversation{CallID: frag.CallID, Turns: turns}, true
}

// Forget drops the rolling window for a call, typically once it ends.
func (o *Orchestrator) Forget(callID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.windows, callID)
}
