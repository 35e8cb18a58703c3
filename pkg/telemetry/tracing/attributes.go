package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for relay spans.
const (
	AttrRequestID = "relay.request_id"
	AttrThreadID  = "relay.thread_id"
	AttrCreated   = "relay.thread_created"
	AttrProtocol  = "relay.protocol"
	AttrOutcome   = "relay.outcome"
	AttrFrames    = "relay.frames"
	AttrMalformed = "relay.malformed_lines"
	AttrAttempts  = "relay.upstream_attempts"
)

// SetThreadAttributes records which thread a request resolved to.
func SetThreadAttributes(span trace.Span, threadID string, created bool) {
	span.SetAttributes(
		attribute.String(AttrThreadID, threadID),
		attribute.Bool(AttrCreated, created),
	)
}

// SetStreamAttributes records the result of a finished stream.
func SetStreamAttributes(span trace.Span, outcome string, frames, malformed, attempts int) {
	span.SetAttributes(
		attribute.String(AttrOutcome, outcome),
		attribute.Int(AttrFrames, frames),
		attribute.Int(AttrMalformed, malformed),
		attribute.Int(AttrAttempts, attempts),
	)
}
