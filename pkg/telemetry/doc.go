// Package telemetry groups the relay's observability packages.
//
// # Components
//
//   - logging: slog logger with service/environment attributes, context
//     request and thread ids, and sensitive key masking
//   - metrics: Prometheus collector for relay, upstream and thread metrics
//   - tracing: OpenTelemetry tracer provider (stdout or OTLP gRPC)
//   - health: /health and /ready endpoints
//
// # Usage
//
//	logger, _ := logging.New(logging.Config{Level: "info", Service: "chat-relay"})
//	slog.SetDefault(logger)
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, _ := tracing.New(&cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(context.Background())
package telemetry
