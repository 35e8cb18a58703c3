// Package server runs the relay's HTTP server.
//
// Routes:
//
//	POST /api/chat     relayed chat stream
//	GET  /health       liveness
//	GET  /ready        readiness (thread store, event bus)
//	GET  /metrics      Prometheus metrics, when enabled
//
// Requests pass through Recovery, chi's RealIP, RequestID, Tracing,
// Logging and CORS in that order. Start blocks until its context is
// cancelled and then drains in-flight streams for up to the configured
// shutdown timeout.
//
// With WithTLSConfig the listener serves TLS; certificates come from the
// config's GetCertificate, so a reloaded pair applies to new handshakes.
//
// The server does not install signal handlers; the caller cancels the
// context, typically with signal.NotifyContext.
package server
