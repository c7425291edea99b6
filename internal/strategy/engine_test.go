package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callsight/internal/calls"
	"callsight/internal/coaching"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []coaching.Conversation
	res   ExtractResult
	err   error
}

func (x *fakeExtractor) Extract(ctx context.Context, convo coaching.Conversation) (ExtractResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, convo)
	return x.res, x.err
}

func (x *fakeExtractor) callCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.calls)
}

type publishRecord struct {
	Topic   string
	Event   string
	Payload any
}

type fakePublisher struct {
	mu   sync.Mutex
	pubs []publishRecord
}

func (p *fakePublisher) Publish(topic, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubs = append(p.pubs, publishRecord{topic, event, payload})
}

func (p *fakePublisher) records() []publishRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishRecord, len(p.pubs))
	copy(out, p.pubs)
	return out
}

func customerFrag(callID, text string) calls.TranscriptFragment {
	return calls.TranscriptFragment{
		CallID: callID, Speaker: calls.SpeakerCustomer, Text: text, IsFinal: true,
	}
}

func agentFrag(callID, text string) calls.TranscriptFragment {
	return calls.TranscriptFragment{
		CallID: callID, Speaker: calls.SpeakerAgent, Text: text, IsFinal: true,
	}
}

func TestNewRequirementPublished(t *testing.T) {
	ex := &fakeExtractor{res: ExtractResult{Requirements: []string{"two phone lines"}}}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "I need two phone lines"))

	got := pub.records()
	if len(got) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(got))
	}
	if got[0].Topic != "strategy:CA1" || got[0].Event != "newClientRequirements" {
		t.Fatalf("unexpected publish: %+v", got[0])
	}
	payload := got[0].Payload.(requirementsPayload)
	if len(payload.Requirements) != 1 || payload.Requirements[0].Text != "two phone lines" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRequirementDedup(t *testing.T) {
	ex := &fakeExtractor{res: ExtractResult{Requirements: []string{"Two phone lines!"}}}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "I need two phone lines"))

	// Same requirement, different casing and punctuation.
	ex.mu.Lock()
	ex.res = ExtractResult{Requirements: []string{"two phone lines"}}
	ex.mu.Unlock()
	e.OnFragment(context.Background(), customerFrag("CA1", "like I said, two phone lines"))

	if got := e.Requirements("CA1"); len(got) != 1 {
		t.Fatalf("expected 1 stored requirement, got %d", len(got))
	}
	// Second extraction produced nothing new, so only one publish total.
	if got := pub.records(); len(got) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(got))
	}
}

func TestStrategyReplacedWholesale(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := now
	ex := &fakeExtractor{res: ExtractResult{Strategy: "lead with reliability"}}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil, WithClock(func() time.Time { return clock }))

	e.OnFragment(context.Background(), customerFrag("CA1", "our current provider keeps dropping calls"))

	s, ok := e.CurrentStrategy("CA1")
	if !ok || s.Text != "lead with reliability" || !s.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected strategy: %+v ok=%v", s, ok)
	}

	clock = now.Add(time.Minute)
	ex.mu.Lock()
	ex.res = ExtractResult{Strategy: "push the premium SLA"}
	ex.mu.Unlock()
	e.OnFragment(context.Background(), customerFrag("CA1", "we would pay for guaranteed uptime"))

	s, _ = e.CurrentStrategy("CA1")
	if s.Text != "push the premium SLA" || !s.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("strategy not replaced: %+v", s)
	}

	got := pub.records()
	if len(got) != 2 || got[1].Event != "callStrategyUpdate" {
		t.Fatalf("unexpected publishes: %+v", got)
	}
}

func TestUnchangedStrategyNotRepublished(t *testing.T) {
	ex := &fakeExtractor{res: ExtractResult{Strategy: "lead with reliability"}}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "dropping calls"))
	e.OnFragment(context.Background(), customerFrag("CA1", "still dropping calls"))

	if got := pub.records(); len(got) != 1 {
		t.Fatalf("identical strategy must publish once, got %d", len(got))
	}
}

func TestEmptyResultNoPublish(t *testing.T) {
	ex := &fakeExtractor{}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "hello there"))

	if len(pub.records()) != 0 {
		t.Fatalf("empty extraction must not publish")
	}
}

func TestExtractorFailureAbsorbed(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("model unavailable")}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "I need a thing"))

	if len(pub.records()) != 0 {
		t.Fatalf("failure must not publish")
	}
	if got := e.Requirements("CA1"); len(got) != 0 {
		t.Fatalf("failure must not mutate state")
	}
}

func TestAgentCadence(t *testing.T) {
	ex := &fakeExtractor{}
	e := New(ex, &fakePublisher{}, nil, nil)

	e.OnFragment(context.Background(), agentFrag("CA1", "first"))
	e.OnFragment(context.Background(), agentFrag("CA1", "second"))
	if ex.callCount() != 0 {
		t.Fatalf("extractor ran before agent cadence was reached")
	}
	e.OnFragment(context.Background(), agentFrag("CA1", "third"))
	if ex.callCount() != 1 {
		t.Fatalf("expected extraction on third agent fragment, got %d", ex.callCount())
	}

	// Customer fragments always trigger extraction.
	e.OnFragment(context.Background(), customerFrag("CA1", "a need"))
	if ex.callCount() != 2 {
		t.Fatalf("customer fragment must trigger extraction")
	}
}

func TestInterimFragmentsIgnored(t *testing.T) {
	ex := &fakeExtractor{}
	e := New(ex, &fakePublisher{}, nil, nil)

	frag := customerFrag("CA1", "partial thought")
	frag.IsFinal = false
	e.OnFragment(context.Background(), frag)

	if ex.callCount() != 0 {
		t.Fatalf("interim fragment must not trigger extraction")
	}
}

func TestPerCallIsolation(t *testing.T) {
	ex := &fakeExtractor{res: ExtractResult{Requirements: []string{"fiber uplink"}}}
	e := New(ex, &fakePublisher{}, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "I need a fiber uplink"))

	if got := e.Requirements("CA2"); len(got) != 0 {
		t.Fatalf("requirements leaked across calls: %+v", got)
	}
	if _, ok := e.CurrentStrategy("CA2"); ok {
		t.Fatalf("strategy leaked across calls")
	}
}

func TestReadPathsAreIdempotent(t *testing.T) {
	ex := &fakeExtractor{res: ExtractResult{
		Requirements: []string{"port existing numbers"},
		Strategy:     "confirm porting timeline",
	}}
	e := New(ex, &fakePublisher{}, nil, nil)
	e.OnFragment(context.Background(), customerFrag("CA1", "can we keep our numbers?"))

	for i := 0; i < 3; i++ {
		if got := e.Requirements("CA1"); len(got) != 1 {
			t.Fatalf("read %d changed state: %+v", i, got)
		}
		if s, ok := e.CurrentStrategy("CA1"); !ok || s.Text != "confirm porting timeline" {
			t.Fatalf("read %d unexpected strategy: %+v", i, s)
		}
	}
}

func TestForgetDropsCallState(t *testing.T) {
	ex := &fakeExtractor{res: ExtractResult{
		Requirements: []string{"two phone lines"},
		Strategy:     "lead with reliability",
	}}
	pub := &fakePublisher{}
	e := New(ex, pub, nil, nil)

	e.OnFragment(context.Background(), customerFrag("CA1", "I need two phone lines"))

	e.Forget("CA1")

	if got := e.Requirements("CA1"); len(got) != 0 {
		t.Fatalf("requirements survived Forget: %+v", got)
	}
	if _, ok := e.CurrentStrategy("CA1"); ok {
		t.Fatalf("strategy survived Forget")
	}

	// The dedup set is gone with the rest of the state: the same requirement
	// on a fresh call with the same id counts as new again.
	e.OnFragment(context.Background(), customerFrag("CA1", "I need two phone lines"))
	if got := e.Requirements("CA1"); len(got) != 1 {
		t.Fatalf("expected requirement re-extracted after Forget, got %+v", got)
	}
	if got := pub.records(); len(got) != 4 {
		t.Fatalf("expected 4 publishes across both lifetimes, got %d", len(got))
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Two Phone Lines!", "two phone lines"},
		{"  two   phone lines  ", "two phone lines"},
		{"two, phone; lines", "two phone lines"},
		{"...", ""},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Fatalf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
