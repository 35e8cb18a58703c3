// Package handlers provides the chat endpoint of the relay.
//
// ChatHandler decodes the request, starts a relayed stream and copies its
// frames to the response, flushing after each one. Errors raised before
// the stream starts are answered as JSON:
//
//   - malformed JSON or an invalid role: 400
//   - no messages: 400 "No messages provided"
//   - thread resolution failure: 500
//
// Once the stream starts the status is always 200. A stream whose upstream
// could not be reached ends without any frame. When the client goes away
// the handler stops writing and closes the stream, which closes the
// upstream connection.
//
// Liveness and readiness endpoints are served by pkg/telemetry/health.
package handlers
