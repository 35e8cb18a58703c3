package middleware

import (
	"net/http"

	"mercator-hq/relay/pkg/telemetry/tracing"
)

// Tracing extracts W3C trace context from the request headers so that spans
// started by handlers join the caller's trace.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.Extract(r.Context(), r.Header)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
