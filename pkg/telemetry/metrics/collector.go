package metrics

import (
	"strconv"
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric the relay exports. It satisfies
// the recorder interfaces of the upstream, threads and relay packages so a
// single instance can be handed to each of them.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	// Relay metrics
	requestsTotal   *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	malformedTotal  prometheus.Counter
	streamDuration  *prometheus.HistogramVec
	streamsInFlight prometheus.Gauge

	// Upstream metrics
	upstreamAttempts *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamRetries  prometheus.Counter
	retryBackoff     prometheus.Histogram

	// Thread metrics
	threadsResolved *prometheus.CounterVec
	threadsKnown    prometheus.Gauge
}

// NewCollector creates a collector and registers its metrics with registry.
// If registry is nil a new private registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{Enabled: true, Namespace: "relay"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DurationBuckets) == 0 {
		// Chat streams last from well under a second to a few minutes.
		cfg.DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}

	c := &Collector{config: cfg, registry: registry}

	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "requests_total",
			Help:      "Chat relay requests by protocol and outcome",
		},
		[]string{"protocol", "outcome"},
	)
	c.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "frames_total",
			Help:      "Downstream frames emitted by frame type",
		},
		[]string{"type"},
	)
	c.malformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "malformed_lines_total",
			Help:      "Upstream lines skipped because they could not be decoded",
		},
	)
	c.streamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stream_duration_seconds",
			Help:      "Wall time from request start to stream completion",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"outcome"},
	)
	c.streamsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "streams_in_flight",
			Help:      "Streams currently relaying",
		},
	)

	c.upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream connection attempts by outcome",
		},
		[]string{"outcome"},
	)
	c.upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upstream",
			Name:      "attempt_duration_seconds",
			Help:      "Time until the first upstream byte or failure",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"outcome"},
	)
	c.upstreamRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Upstream connection retries",
		},
	)
	c.retryBackoff = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upstream",
			Name:      "retry_backoff_seconds",
			Help:      "Delay slept before an upstream retry",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	c.threadsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "threads",
			Name:      "resolved_total",
			Help:      "Thread resolutions by whether a new thread was created",
		},
		[]string{"created"},
	)
	c.threadsKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "threads",
			Name:      "known",
			Help:      "Threads held by the registry store",
		},
	)

	registry.MustRegister(
		c.requestsTotal,
		c.framesTotal,
		c.malformedTotal,
		c.streamDuration,
		c.streamsInFlight,
		c.upstreamAttempts,
		c.upstreamDuration,
		c.upstreamRetries,
		c.retryBackoff,
		c.threadsResolved,
		c.threadsKnown,
	)

	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StreamStarted increments the in-flight gauge.
func (c *Collector) StreamStarted() {
	if !c.config.Enabled {
		return
	}
	c.streamsInFlight.Inc()
}

// StreamFinished records a completed stream and decrements the in-flight
// gauge.
func (c *Collector) StreamFinished(protocol, outcome string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.streamsInFlight.Dec()
	c.requestsTotal.WithLabelValues(protocol, outcome).Inc()
	c.streamDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordRejected counts a request refused before any stream was opened.
func (c *Collector) RecordRejected(protocol, reason string) {
	if !c.config.Enabled {
		return
	}
	c.requestsTotal.WithLabelValues(protocol, reason).Inc()
}

// RecordFrame counts one emitted frame.
func (c *Collector) RecordFrame(frameType string) {
	if !c.config.Enabled {
		return
	}
	if frameType == "" {
		frameType = "raw"
	}
	c.framesTotal.WithLabelValues(frameType).Inc()
}

// RecordMalformed counts one skipped upstream line.
func (c *Collector) RecordMalformed() {
	if !c.config.Enabled {
		return
	}
	c.malformedTotal.Inc()
}

// RecordUpstreamAttempt records one upstream connection attempt.
func (c *Collector) RecordUpstreamAttempt(outcome string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.upstreamAttempts.WithLabelValues(outcome).Inc()
	c.upstreamDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordUpstreamRetry records a retry and the backoff slept before it.
func (c *Collector) RecordUpstreamRetry(delay time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.upstreamRetries.Inc()
	c.retryBackoff.Observe(delay.Seconds())
}

// RecordThreadResolved records a registry resolution.
func (c *Collector) RecordThreadResolved(created bool) {
	if !c.config.Enabled {
		return
	}
	c.threadsResolved.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// SetThreadsKnown sets the known threads gauge.
func (c *Collector) SetThreadsKnown(n int64) {
	if !c.config.Enabled {
		return
	}
	c.threadsKnown.Set(float64(n))
}
