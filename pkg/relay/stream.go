package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/relay/pkg/datastream"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/threads"
	"mercator-hq/relay/pkg/upstream"

	"go.opentelemetry.io/otel/trace"
)

// State is the position of a stream in its lifecycle.
type State int

const (
	StateStarting State = iota
	StateResolvingThread
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateResolvingThread:
		return "resolving_thread"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome describes how a finished stream ended.
type Outcome string

const (
	// OutcomeComplete means the upstream ended the stream itself.
	OutcomeComplete Outcome = "complete"
	// OutcomePartial means the upstream connection failed mid-stream.
	OutcomePartial Outcome = "partial"
	// OutcomeCancelled means the client went away.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeFailed means no upstream stream could be opened.
	OutcomeFailed Outcome = "failed"
)

// Stream is one relayed response. Frames must be drained or Close called.
type Stream struct {
	relay    *Relay
	protocol datastream.Protocol
	threadID threads.ThreadID
	created  bool
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	frames chan datastream.Frame
	done   chan struct{}

	mu        sync.Mutex
	state     State
	outcome   Outcome
	err       error
	attempts  int
	sent      int
	malformed int
}

func newStream(protocol datastream.Protocol) *Stream {
	return &Stream{
		protocol: protocol,
		started:  time.Now(),
		cancel:   func() {},
		frames:   make(chan datastream.Frame),
		done:     make(chan struct{}),
		state:    StateStarting,
	}
}

// Frames returns the downstream frames in upstream order. The channel is
// closed when the stream completes or fails.
func (s *Stream) Frames() <-chan datastream.Frame {
	return s.frames
}

// ThreadID returns the thread the turn was relayed on.
func (s *Stream) ThreadID() threads.ThreadID {
	return s.threadID
}

// Created reports whether the thread id was assigned by this request.
func (s *Stream) Created() bool {
	return s.created
}

// Protocol returns the downstream protocol.
func (s *Stream) Protocol() datastream.Protocol {
	return s.protocol
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns how the stream ended, or "" while it is running.
func (s *Stream) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the upstream failure of a Failed stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the stream has finished and released the upstream
// connection.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close cancels the stream and waits for it to release the upstream
// connection. It is safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Stream) run(up *upstream.Stream, maxLineBytes int) {
	defer close(s.done)
	defer close(s.frames)
	defer up.Close()

	ctx := s.ctx
	stop := context.AfterFunc(ctx, func() { _ = up.Close() })
	defer stop()

	parser := upstream.NewParser(up, upstream.ParserOptions{MaxLineBytes: maxLineBytes})
	enc := datastream.NewEncoder(s.protocol)

	for {
		u, err := parser.Next()
		if err != nil {
			if ctx.Err() != nil {
				s.finish(OutcomeCancelled, nil)
				return
			}
			outcome := OutcomeComplete
			if !errors.Is(err, io.EOF) {
				slog.WarnContext(ctx, "upstream stream ended early",
					"error", err,
					"frames", s.sentCount(),
				)
				outcome = OutcomePartial
			}
			s.complete(enc, outcome)
			return
		}

		switch u.Kind {
		case upstream.UnitMalformed:
			s.mu.Lock()
			s.malformed++
			s.mu.Unlock()
			s.relay.metrics.RecordMalformed()
			slog.WarnContext(ctx, "skipping malformed upstream line",
				"error", u.Err,
				"line_length", len(u.Line),
			)
		case upstream.UnitDone:
			s.complete(enc, OutcomeComplete)
			return
		case upstream.UnitDelta:
			if !s.send(enc.Encode(u)) {
				s.finish(OutcomeCancelled, nil)
				return
			}
		}
	}
}

// complete emits the terminator and finishes the stream.
func (s *Stream) complete(enc datastream.Encoder, outcome Outcome) {
	if !s.send(enc.Finish()) {
		outcome = OutcomeCancelled
	}
	s.finish(outcome, nil)
}

// send delivers frames in order. It reports false once the stream is
// cancelled.
func (s *Stream) send(frames []datastream.Frame) bool {
	for _, f := range frames {
		select {
		case s.frames <- f:
			s.mu.Lock()
			s.sent++
			s.mu.Unlock()
			s.relay.metrics.RecordFrame(string(f.Type))
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

func (s *Stream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// finish records the terminal state, logs it and publishes the event.
func (s *Stream) finish(outcome Outcome, err error) {
	s.mu.Lock()
	s.outcome = outcome
	s.err = err
	if outcome == OutcomeFailed {
		s.state = StateFailed
	} else {
		s.state = StateCompleted
	}
	frames, malformed, attempts := s.sent, s.malformed, s.attempts
	s.mu.Unlock()

	elapsed := time.Since(s.started)
	s.relay.metrics.StreamFinished(string(s.protocol), string(outcome), elapsed)

	tracing.SetStreamAttributes(s.span, string(outcome), frames, malformed, attempts)
	tracing.SetStatus(s.span, err)
	s.span.End()

	typ := events.TypeCompleted
	if outcome == OutcomeFailed {
		typ = events.TypeFailed
	}
	e := s.event(typ)
	e.Outcome = string(outcome)
	e.Frames = frames
	e.Malformed = malformed
	e.Attempts = attempts
	e.DurationMS = float64(elapsed.Microseconds()) / 1000
	if err != nil {
		e.Error = err.Error()
	}
	s.relay.publish(s.ctx, e)

	slog.InfoContext(s.ctx, "relay stream finished",
		"outcome", outcome,
		"frames", frames,
		"malformed_lines", malformed,
		"upstream_attempts", attempts,
		"duration_ms", e.DurationMS,
	)
	s.cancel()
}

func (s *Stream) event(t events.Type) events.Event {
	e := events.New(t)
	e.ThreadID = string(s.threadID)
	e.Created = s.created
	e.Protocol = string(s.protocol)
	return e
}
