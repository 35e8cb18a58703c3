package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/relay/pkg/datastream"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/threads"
	"mercator-hq/relay/pkg/upstream"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrNoTurns is returned by Start when the request carries no messages.
var ErrNoTurns = errors.New("relay: no messages provided")

// DefaultThreadField is the outbound JSON field carrying the thread id.
const DefaultThreadField = "threadId"

// Message is one conversation turn as received from the client.
type Message struct {
	Role     string
	Content  string
	ThreadID string
}

// ChatRequest is one client request.
type ChatRequest struct {
	Messages []Message

	// SessionToken, when set, is hashed into the session key together with
	// the first message.
	SessionToken string

	Protocol datastream.Protocol
}

// Config configures a Relay.
type Config struct {
	// ThreadField names the thread id field in the upstream payload.
	// Default: threadId
	ThreadField string

	// MaxLineBytes bounds a single upstream line. Default: 1 MiB
	MaxLineBytes int
}

// Opener opens upstream streams. *upstream.Transport implements it.
type Opener interface {
	Open(ctx context.Context, body []byte) (*upstream.Stream, error)
}

// Resolver maps session keys to thread ids. *threads.Registry implements it.
type Resolver interface {
	Resolve(ctx context.Context, key threads.SessionKey) (threads.ThreadID, bool, error)
	Bind(ctx context.Context, key threads.SessionKey, id threads.ThreadID) (threads.ThreadID, bool, error)
}

// Metrics receives stream metrics. *metrics.Collector implements it.
type Metrics interface {
	StreamStarted()
	StreamFinished(protocol, outcome string, d time.Duration)
	RecordRejected(protocol, reason string)
	RecordFrame(frameType string)
	RecordMalformed()
}

// Tracer starts spans. Both trace.Tracer and *tracing.Tracer satisfy it.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Deps are the collaborators of a Relay. Transport and Registry are
// required; the rest default to no-ops.
type Deps struct {
	Transport Opener
	Registry  Resolver
	Publisher events.Publisher
	Metrics   Metrics
	Tracer    Tracer
}

// Relay starts relayed streams. It is safe for concurrent use.
type Relay struct {
	config    Config
	transport Opener
	registry  Resolver
	publisher events.Publisher
	metrics   Metrics
	tracer    Tracer
}

// New returns a Relay.
func New(cfg Config, deps Deps) *Relay {
	if cfg.ThreadField == "" {
		cfg.ThreadField = DefaultThreadField
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = upstream.DefaultMaxLineBytes
	}
	r := &Relay{
		config:    cfg,
		transport: deps.Transport,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
	}
	if r.publisher == nil {
		r.publisher = events.Nop{}
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	return r
}

// Start resolves the thread and connects to the upstream. It returns
// ErrNoTurns for an empty request without contacting the upstream. A
// terminal upstream failure is not an error: the returned stream is
// already Failed and yields no frames. Registry and encoding failures are
// returned as errors.
//
// The stream stops when ctx is cancelled or Close is called.
func (r *Relay) Start(ctx context.Context, req ChatRequest) (*Stream, error) {
	protocol := req.Protocol
	if protocol == "" {
		protocol = datastream.ProtocolData
	}
	if len(req.Messages) == 0 {
		r.metrics.RecordRejected(string(protocol), "no_turns")
		return nil, ErrNoTurns
	}

	s := newStream(protocol)
	turn := req.Messages[len(req.Messages)-1]

	s.setState(StateResolvingThread)
	threadID, created, err := r.resolveThread(ctx, req, turn)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve thread",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		r.metrics.RecordRejected(string(protocol), "thread_resolution")
		return nil, fmt.Errorf("resolve thread: %w", err)
	}
	s.threadID = threadID
	s.created = created

	body, err := r.encodeTurn(turn, threadID)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	ctx = logging.WithThreadID(ctx, string(threadID))
	ctx, span := r.tracer.Start(ctx, "relay.stream", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String(tracing.AttrProtocol, string(protocol)))
	tracing.SetThreadAttributes(span, string(threadID), created)

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.span = span
	s.relay = r
	s.ctx = streamCtx

	r.metrics.StreamStarted()
	r.publish(ctx, s.event(events.TypeStarted))
	slog.InfoContext(ctx, "relaying chat turn",
		"role", turn.Role,
		"protocol", protocol,
		"thread_created", created,
		"turns", len(req.Messages),
	)

	s.setState(StateConnecting)
	up, err := r.transport.Open(streamCtx, body)
	if err != nil {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "client went away while connecting", "error", err)
			s.finish(OutcomeCancelled, nil)
		} else {
			s.attempts = attemptsOf(err)
			slog.ErrorContext(ctx, "upstream unavailable",
				"error", err,
				"error_type", fmt.Sprintf("%T", err),
				"rejected", upstream.IsRejected(err),
				"transient", errors.Is(err, upstream.ErrTransient),
			)
			s.finish(OutcomeFailed, err)
		}
		close(s.frames)
		close(s.done)
		return s, nil
	}
	s.attempts = up.Attempts

	s.setState(StateStreaming)
	go s.run(up, r.config.MaxLineBytes)
	return s, nil
}

// resolveThread returns the client supplied thread id verbatim, or
// resolves one from the session key of the first turn. A supplied id is
// also bound to the session key when the key is new, so later turns of the
// conversation that omit it land on the same thread.
func (r *Relay) resolveThread(ctx context.Context, req ChatRequest, turn Message) (threads.ThreadID, bool, error) {
	key := threads.DeriveKey(req.Messages[0].Content, req.SessionToken)
	if turn.ThreadID != "" {
		supplied := threads.ThreadID(turn.ThreadID)
		if _, _, err := r.registry.Bind(ctx, key, supplied); err != nil {
			slog.WarnContext(ctx, "failed to bind supplied thread id", "error", err)
		}
		return supplied, false, nil
	}
	return r.registry.Resolve(ctx, key)
}

// encodeTurn builds the upstream payload. Only the latest turn is sent;
// the upstream keeps the conversation by thread id.
func (r *Relay) encodeTurn(turn Message, threadID threads.ThreadID) ([]byte, error) {
	payload := map[string][]map[string]string{
		"messages": {{
			"role":               turn.Role,
			"content":            turn.Content,
			r.config.ThreadField: string(threadID),
		}},
	}
	return json.Marshal(payload)
}

// publish sends e without letting a publishing failure affect the stream.
func (r *Relay) publish(ctx context.Context, e events.Event) {
	e.RequestID = logging.GetRequestID(ctx)
	if err := r.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		slog.WarnContext(ctx, "failed to publish relay event",
			"event_type", e.Type,
			"error", err,
		)
	}
}

func attemptsOf(err error) int {
	var exhausted *upstream.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 1
}

type nopMetrics struct{}

func (nopMetrics) StreamStarted()                               {}
func (nopMetrics) StreamFinished(string, string, time.Duration) {}
func (nopMetrics) RecordRejected(string, string)                {}
func (nopMetrics) RecordFrame(string)                           {}
func (nopMetrics) RecordMalformed()                             {}
