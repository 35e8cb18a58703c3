package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/internal/upstreamtest"
	"mercator-hq/relay/pkg/datastream"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/threads"
	"mercator-hq/relay/pkg/upstream"

	"go.uber.org/goleak"
)

const finishLine = `e:{"finishReason":"stop","usage":{"promptTokens":0,"completionTokens":0},"isContinued":false}` + "\n"

func newTransport(t *testing.T, url string) *upstream.Transport {
	t.Helper()
	tr, err := upstream.NewTransport(upstream.TransportConfig{
		URL:            url,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  2,
	}, upstream.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	return tr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type countingMetrics struct {
	mu        sync.Mutex
	malformed int
	inFlight  int
	outcomes  []string
	rejected  []string
}

func (m *countingMetrics) StreamStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *countingMetrics) StreamFinished(_, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.outcomes = append(m.outcomes, outcome)
}

func (m *countingMetrics) RecordRejected(_, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *countingMetrics) RecordFrame(string) {}

func (m *countingMetrics) RecordMalformed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed++
}

type failingResolver struct{ calls, binds int }

func (r *failingResolver) Resolve(context.Context, threads.SessionKey) (threads.ThreadID, bool, error) {
	r.calls++
	return "", false, errors.New("store unavailable")
}

func (r *failingResolver) Bind(context.Context, threads.SessionKey, threads.ThreadID) (threads.ThreadID, bool, error) {
	r.binds++
	return "", false, errors.New("store unavailable")
}

type harness struct {
	srv       *upstreamtest.Server
	relay     *Relay
	publisher *recordingPublisher
	metrics   *countingMetrics
}

func newHarness(t *testing.T, cfg Config, scripts ...upstreamtest.Script) *harness {
	t.Helper()
	srv := upstreamtest.NewServer(scripts...)
	t.Cleanup(srv.Close)
	tr := newTransport(t, srv.URL())
	t.Cleanup(tr.Close)

	h := &harness{srv: srv, publisher: &recordingPublisher{}, metrics: &countingMetrics{}}
	h.relay = New(cfg, Deps{
		Transport: tr,
		Registry:  threads.New(threads.NewMemoryStore()),
		Publisher: h.publisher,
		Metrics:   h.metrics,
	})
	return h
}

func userTurn(content string) ChatRequest {
	return ChatRequest{Messages: []Message{{Role: "user", Content: content}}}
}

func collect(t *testing.T, s *Stream) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-s.Frames():
			if !ok {
				return out
			}
			out = append(out, string(f.Bytes()))
		case <-timeout:
			t.Fatal("timed out waiting for frames")
		}
	}
}

func equalLines(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frames = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRelay_EndToEnd(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{Lines: []string{
		`data: {"choices":[{"delta":{"content":"He"}}]}`,
		`data: {"choices":[{"delta":{"content":"llo"}}]}`,
		upstreamtest.Done,
	}})

	s, err := h.relay.Start(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close()

	equalLines(t, collect(t, s), []string{`0:"He"` + "\n", `0:"llo"` + "\n", finishLine})

	<-s.Done()
	if s.Outcome() != OutcomeComplete {
		t.Errorf("Outcome() = %q, want %q", s.Outcome(), OutcomeComplete)
	}
	if s.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", s.State())
	}
	if s.ThreadID() == "" || !s.Created() {
		t.Errorf("thread = %q created=%v", s.ThreadID(), s.Created())
	}

	reqs := h.srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("upstream requests = %d, want 1", len(reqs))
	}
	msgs, ok := reqs[0].Body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("upstream body = %v", reqs[0].Body)
	}
	msg := msgs[0].(map[string]any)
	if msg["role"] != "user" || msg["content"] != "hi" || msg["threadId"] != string(s.ThreadID()) {
		t.Errorf("upstream message = %v", msg)
	}

	got := h.publisher.types()
	if len(got) != 2 || got[0] != events.TypeStarted || got[1] != events.TypeCompleted {
		t.Errorf("events = %v", got)
	}
	if last := h.publisher.last(); last.Frames != 3 || last.Outcome != "complete" {
		t.Errorf("completed event = %+v", last)
	}
}

func TestRelay_NoMessages(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{Lines: []string{upstreamtest.Done}})

	s, err := h.relay.Start(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrNoTurns) {
		t.Fatalf("Start() error = %v, want ErrNoTurns", err)
	}
	if s != nil {
		t.Error("Start() returned a stream for an empty request")
	}
	if n := h.srv.RequestCount(); n != 0 {
		t.Errorf("upstream requests = %d, want 0", n)
	}
	if len(h.metrics.rejected) != 1 || h.metrics.rejected[0] != "no_turns" {
		t.Errorf("rejected = %v", h.metrics.rejected)
	}
}

func TestRelay_SynthesizesTerminator(t *testing.T) {
	tests := []struct {
		name    string
		script  upstreamtest.Script
		want    []string
		outcome Outcome
	}{
		{
			name:    "eof without done",
			script:  upstreamtest.Script{Lines: []string{upstreamtest.Delta("a")}},
			want:    []string{`0:"a"` + "\n", finishLine},
			outcome: OutcomeComplete,
		},
		{
			name: "reset after first line",
			script: upstreamtest.Script{
				Lines:           []string{upstreamtest.Delta("a"), upstreamtest.Delta("b")},
				ResetAfterLines: 1,
			},
			want:    []string{`0:"a"` + "\n", finishLine},
			outcome: OutcomePartial,
		},
		{
			name:    "empty upstream body",
			script:  upstreamtest.Script{Lines: []string{": keepalive", ""}},
			want:    []string{finishLine},
			outcome: OutcomeComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, tt.script)

			s, err := h.relay.Start(context.Background(), userTurn("hi"))
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer s.Close()

			equalLines(t, collect(t, s), tt.want)
			if s.Outcome() != tt.outcome {
				t.Errorf("Outcome() = %q, want %q", s.Outcome(), tt.outcome)
			}
			if n := h.srv.RequestCount(); n != 1 {
				t.Errorf("upstream requests = %d, want 1", n)
			}
		})
	}
}

func TestRelay_SkipsMalformedLines(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{Lines: []string{
		"data: {not json",
		"data: [1,2",
		"data: }",
		upstreamtest.Delta("ok"),
		upstreamtest.Done,
	}})

	s, err := h.relay.Start(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close()

	equalLines(t, collect(t, s), []string{`0:"ok"` + "\n", finishLine})
	if h.metrics.malformed != 3 {
		t.Errorf("malformed = %d, want 3", h.metrics.malformed)
	}
	if last := h.publisher.last(); last.Malformed != 3 {
		t.Errorf("completed event malformed = %d, want 3", last.Malformed)
	}
}

func TestRelay_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name     string
		script   upstreamtest.Script
		requests int
		check    func(error) bool
	}{
		{
			name:     "reset before headers",
			script:   upstreamtest.Script{ResetBeforeHeaders: true},
			requests: 3,
			check:    func(err error) bool { return errors.Is(err, upstream.ErrTransient) },
		},
		{
			name:     "rejected",
			script:   upstreamtest.Script{StatusCode: 401, Body: "bad key"},
			requests: 1,
			check:    upstream.IsRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, tt.script)

			s, err := h.relay.Start(context.Background(), userTurn("hi"))
			if err != nil {
				t.Fatalf("Start() error = %v, want failed stream", err)
			}
			defer s.Close()

			if frames := collect(t, s); len(frames) != 0 {
				t.Errorf("frames = %q, want none", frames)
			}
			if s.State() != StateFailed || s.Outcome() != OutcomeFailed {
				t.Errorf("state = %v outcome = %q", s.State(), s.Outcome())
			}
			if !tt.check(s.Err()) {
				t.Errorf("Err() = %v", s.Err())
			}
			if n := h.srv.RequestCount(); n != tt.requests {
				t.Errorf("upstream requests = %d, want %d", n, tt.requests)
			}
			if last := h.publisher.last(); last.Type != events.TypeFailed || last.Attempts != tt.requests {
				t.Errorf("failed event = %+v", last)
			}
			if h.metrics.inFlight != 0 {
				t.Errorf("in flight = %d, want 0", h.metrics.inFlight)
			}
		})
	}
}

func TestRelay_CancelClosesUpstream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := upstreamtest.NewServer(upstreamtest.Script{
		Lines: []string{upstreamtest.Delta("x")},
		Stall: true,
	})
	defer srv.Close()
	tr := newTransport(t, srv.URL())
	defer tr.Close()

	r := New(Config{}, Deps{Transport: tr, Registry: threads.New(nil)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := r.Start(ctx, userTurn("hi"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case f := <-s.Frames():
		if string(f.Bytes()) != `0:"x"`+"\n" {
			t.Fatalf("first frame = %q", f.Bytes())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first frame")
	}

	cancel()
	collect(t, s)
	s.Close()

	if s.Outcome() != OutcomeCancelled || s.State() != StateCompleted {
		t.Errorf("state = %v outcome = %q, want completed/cancelled", s.State(), s.Outcome())
	}
	select {
	case <-srv.ClientGone():
	case <-time.After(5 * time.Second):
		t.Fatal("upstream did not observe the disconnect")
	}
}

func TestRelay_CloseStopsProducer(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{
		Lines: []string{upstreamtest.Delta("x"), upstreamtest.Delta("y")},
		Stall: true,
	})

	s, err := h.relay.Start(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-s.Frames()
	s.Close()
	s.Close()

	if s.Outcome() != OutcomeCancelled {
		t.Errorf("Outcome() = %q, want cancelled", s.Outcome())
	}
}

func TestRelay_ThreadResolution(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{Lines: []string{upstreamtest.Done}})

	start := func(req ChatRequest) *Stream {
		t.Helper()
		s, err := h.relay.Start(context.Background(), req)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		collect(t, s)
		s.Close()
		return s
	}

	first := start(userTurn("plan a trip"))
	followUp := start(ChatRequest{Messages: []Message{
		{Role: "user", Content: "plan a trip"},
		{Role: "assistant", Content: "where to?"},
		{Role: "user", Content: "lisbon"},
	}})
	if first.ThreadID() != followUp.ThreadID() {
		t.Errorf("follow-up thread = %q, want %q", followUp.ThreadID(), first.ThreadID())
	}
	if followUp.Created() {
		t.Error("follow-up created a new thread")
	}

	tokened := start(ChatRequest{
		Messages:     []Message{{Role: "user", Content: "plan a trip"}},
		SessionToken: "session-1",
	})
	if tokened.ThreadID() == first.ThreadID() {
		t.Error("session token did not separate the conversation")
	}

	supplied := start(ChatRequest{Messages: []Message{{Role: "user", Content: "x", ThreadID: "client-thread"}}})
	if supplied.ThreadID() != "client-thread" || supplied.Created() {
		t.Errorf("ThreadID() = %q created=%v, want client-thread", supplied.ThreadID(), supplied.Created())
	}
	withoutID := start(ChatRequest{Messages: []Message{
		{Role: "user", Content: "x"},
		{Role: "assistant", Content: "y"},
		{Role: "user", Content: "z"},
	}})
	if withoutID.ThreadID() != "client-thread" || withoutID.Created() {
		t.Errorf("turn without thread id = %q created=%v, want client-thread", withoutID.ThreadID(), withoutID.Created())
	}

	// An existing mapping is not replaced; the supplied id is still used.
	other := start(ChatRequest{Messages: []Message{{Role: "user", Content: "plan a trip", ThreadID: "other-thread"}}})
	if other.ThreadID() != "other-thread" {
		t.Errorf("ThreadID() = %q, want other-thread", other.ThreadID())
	}
	again := start(userTurn("plan a trip"))
	if again.ThreadID() != first.ThreadID() {
		t.Errorf("rebound thread = %q, want %q", again.ThreadID(), first.ThreadID())
	}

	reqs := h.srv.Requests()
	last := reqs[1].Body["messages"].([]any)
	if len(last) != 1 || last[0].(map[string]any)["content"] != "lisbon" {
		t.Errorf("follow-up forwarded %v, want only the latest turn", last)
	}
}

func TestRelay_ThreadField(t *testing.T) {
	h := newHarness(t, Config{ThreadField: "thread_id"}, upstreamtest.Script{Lines: []string{upstreamtest.Done}})

	s, err := h.relay.Start(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	collect(t, s)
	s.Close()

	msg := h.srv.Requests()[0].Body["messages"].([]any)[0].(map[string]any)
	if msg["thread_id"] != string(s.ThreadID()) {
		t.Errorf("message = %v, want thread_id %q", msg, s.ThreadID())
	}
	if _, ok := msg["threadId"]; ok {
		t.Error("threadId sent alongside thread_id")
	}
}

func TestRelay_RegistryError(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{Lines: []string{upstreamtest.Done}})
	defer srv.Close()
	tr := newTransport(t, srv.URL())
	defer tr.Close()

	resolver := &failingResolver{}
	r := New(Config{}, Deps{Transport: tr, Registry: resolver})

	if _, err := r.Start(context.Background(), userTurn("hi")); err == nil || !strings.Contains(err.Error(), "store unavailable") {
		t.Fatalf("Start() error = %v, want registry error", err)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.calls)
	}
	if n := srv.RequestCount(); n != 0 {
		t.Errorf("upstream requests = %d, want 0", n)
	}
}

func TestRelay_SuppliedThreadSurvivesRegistryError(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{Lines: []string{upstreamtest.Done}})
	defer srv.Close()
	tr := newTransport(t, srv.URL())
	defer tr.Close()

	resolver := &failingResolver{}
	r := New(Config{}, Deps{Transport: tr, Registry: resolver})

	s, err := r.Start(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi", ThreadID: "client-thread"}}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	collect(t, s)
	s.Close()

	if s.ThreadID() != "client-thread" || s.Outcome() != OutcomeComplete {
		t.Errorf("stream = %q %q, want client-thread complete", s.ThreadID(), s.Outcome())
	}
	if resolver.binds != 1 || resolver.calls != 0 {
		t.Errorf("binds = %d resolves = %d, want 1 and 0", resolver.binds, resolver.calls)
	}
}

func TestRelay_TextProtocol(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{Lines: []string{
		upstreamtest.Delta("He"),
		upstreamtest.Delta(""),
		upstreamtest.Delta("llo"),
		upstreamtest.Done,
	}})

	req := userTurn("hi")
	req.Protocol = datastream.ProtocolText
	s, err := h.relay.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close()

	equalLines(t, collect(t, s), []string{"He", "llo"})
	if s.Outcome() != OutcomeComplete {
		t.Errorf("Outcome() = %q", s.Outcome())
	}
}

func TestRelay_ConcurrentStreams(t *testing.T) {
	h := newHarness(t, Config{}, upstreamtest.Script{Lines: []string{
		upstreamtest.Delta("a"),
		upstreamtest.Delta("b"),
		upstreamtest.Done,
	}})

	var wg sync.WaitGroup
	ids := make([]threads.ThreadID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.relay.Start(context.Background(), userTurn("same opener"))
			if err != nil {
				t.Errorf("Start() error = %v", err)
				return
			}
			defer s.Close()
			var frames []string
			for f := range s.Frames() {
				frames = append(frames, string(f.Bytes()))
			}
			if len(frames) != 3 || frames[0] != `0:"a"`+"\n" || frames[1] != `0:"b"`+"\n" {
				t.Errorf("frames = %q", frames)
			}
			ids[i] = s.ThreadID()
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("thread ids diverged: %v", ids)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateResolvingThread.String() != "resolving_thread" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
