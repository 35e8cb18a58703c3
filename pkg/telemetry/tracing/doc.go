// Package tracing sets up OpenTelemetry tracing for the relay.
//
// New installs a global tracer provider exporting either to stdout
// (stdouttrace) or to an OTLP gRPC collector. Instrumented packages obtain
// tracers through otel.Tracer, so they stay noop until New runs with
// tracing enabled.
//
// # Spans
//
//   - relay.stream: one per chat request, from thread resolution until the
//     last frame. Carries relay.thread_id, relay.outcome, relay.frames.
//   - upstream.attempt: one per upstream connection attempt, child of
//     relay.stream, with upstream.outcome.
//
// The upstream request carries the W3C traceparent header, so the
// completions service can continue the trace.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(version))
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
