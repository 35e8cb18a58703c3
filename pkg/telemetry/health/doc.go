// Package health provides the relay's liveness and readiness endpoints.
//
//   - /health: the process is up; always 200.
//   - /ready: every registered dependency check passed; 503 otherwise.
//
// Usage:
//
//	checker := health.New(2*time.Second, version)
//	checker.Register("threads", func(ctx context.Context) error {
//	    _, err := registry.Count(ctx)
//	    return err
//	})
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
package health
