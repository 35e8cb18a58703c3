// Package middleware provides HTTP middleware for the relay's routes.
//
// The server chains them as
//
//	Recovery(RealIP(RequestID(Tracing(Logging(CORS(handler))))))
//
// RealIP comes from chi. RequestID stores the id with
// logging.WithRequestID so that log lines written with the request context
// carry request_id. Logging wraps the response writer but forwards Flush,
// which the chat handler relies on to push each frame immediately.
//
// None of the middleware sets a per-request timeout: relayed streams are
// bounded by the upstream read timeout instead.
package middleware
