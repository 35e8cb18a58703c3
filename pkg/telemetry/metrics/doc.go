// Package metrics provides Prometheus metrics collection for the chat relay.
//
// # Metrics
//
//   - relay_requests_total{protocol,outcome}: requests by stream outcome
//     (complete, partial, cancelled, failed) or rejection reason
//   - relay_frames_total{type}: downstream frames by type ("0" text, "e" finish, raw)
//   - relay_malformed_lines_total: upstream lines skipped
//   - relay_stream_duration_seconds{outcome}
//   - relay_streams_in_flight
//   - relay_upstream_attempts_total{outcome}: ok, rejected, timeout, error
//   - relay_upstream_attempt_duration_seconds{outcome}
//   - relay_upstream_retries_total, relay_upstream_retry_backoff_seconds
//   - relay_threads_resolved_total{created}, relay_threads_known
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	transport, _ := upstream.NewTransport(tcfg, upstream.WithRecorder(collector))
//	registry := threads.New(store, threads.WithRecorder(collector))
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Recording methods are no-ops when metrics are disabled.
package metrics
