package upstream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Default transport settings.
const (
	DefaultAPIKeyHeader   = "X-API-Key"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultBackoffFactor  = 2.0
)

// maxRejectedBody bounds how much of a rejection body is kept for logs.
const maxRejectedBody = 4096

// TransportConfig configures a Transport.
type TransportConfig struct {
	// URL is the upstream chat endpoint.
	URL string

	// APIKeyHeader is the header carrying the API key. Default: X-API-Key
	APIKeyHeader string

	// ConnectTimeout bounds dialing and the TLS handshake. Default: 10s
	ConnectTimeout time.Duration

	// ReadTimeout bounds each read from the connection, so a stalled
	// upstream fails after this long without bytes. Default: 30s
	ReadTimeout time.Duration

	// WriteTimeout bounds each write to the connection. Default: 10s
	WriteTimeout time.Duration

	// IdleTimeout is how long a pooled connection may stay unused. Default: 30s
	IdleTimeout time.Duration

	// MaxAttempts is the total number of requests issued per Open. Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt. Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 5s
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each failed attempt. Default: 2.0
	BackoffFactor float64
}

func (c *TransportConfig) applyDefaults() {
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = DefaultAPIKeyHeader
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = DefaultBackoffFactor
	}
}

// RetryState tracks one Open call's attempt sequence.
type RetryState struct {
	Attempt       int
	MaxAttempts   int
	BackoffFactor float64
}

// Remaining returns the number of attempts left after the current one.
func (s RetryState) Remaining() int {
	return s.MaxAttempts - s.Attempt
}

// KeySource supplies the upstream API key. It is consulted on every attempt.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource returning a fixed key.
type StaticKey string

// APIKey implements KeySource.
func (k StaticKey) APIKey(context.Context) (string, error) {
	return string(k), nil
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) (string, error)

// APIKey implements KeySource.
func (f KeySourceFunc) APIKey(ctx context.Context) (string, error) {
	return f(ctx)
}

// Recorder receives transport metrics.
type Recorder interface {
	RecordUpstreamAttempt(outcome string, duration time.Duration)
	RecordUpstreamRetry(delay time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamAttempt(string, time.Duration) {}
func (nopRecorder) RecordUpstreamRetry(time.Duration)           {}

// Option configures a Transport.
type Option func(*Transport)

// WithKeySource sets where the API key comes from.
func WithKeySource(keys KeySource) Option {
	return func(t *Transport) { t.keys = keys }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Transport) { t.recorder = r }
}

// WithSleep replaces the backoff wait. Used by tests to observe delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transport) { t.sleep = sleep }
}

// WithOnRetry registers a hook called before each retry.
func WithOnRetry(fn func(state RetryState, delay time.Duration, cause error)) Option {
	return func(t *Transport) { t.onRetry = fn }
}

// Transport opens streamed POSTs to the upstream and retries failures that
// happen before the first response byte.
type Transport struct {
	cfg      TransportConfig
	client   *http.Client
	keys     KeySource
	recorder Recorder
	tracer   trace.Tracer
	sleep    func(ctx context.Context, d time.Duration) error
	onRetry  func(state RetryState, delay time.Duration, cause error)
}

// NewTransport creates a Transport with its own connection pool.
func NewTransport(cfg TransportConfig, opts ...Option) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("upstream url is required")
	}
	cfg.applyDefaults()

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	httpTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: cfg.ReadTimeout, write: cfg.WriteTimeout}, nil
		},
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.IdleTimeout,
		DisableCompression:  true,
	}

	t := &Transport{
		cfg:      cfg,
		client:   &http.Client{Transport: httpTransport},
		keys:     StaticKey(""),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("mercator-hq/relay/upstream"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the effective configuration.
func (t *Transport) Config() TransportConfig {
	return t.cfg
}

// Close releases idle pooled connections.
func (t *Transport) Close() {
	t.client.CloseIdleConnections()
}

// Open issues the streamed POST and returns once the first response byte has
// arrived. Transient failures before that point are retried with exponential
// backoff. A non-2xx response returns *RejectedError immediately. When every
// attempt fails the error is an *ExhaustedError.
func (t *Transport) Open(ctx context.Context, body []byte) (*Stream, error) {
	state := RetryState{MaxAttempts: t.cfg.MaxAttempts, BackoffFactor: t.cfg.BackoffFactor}

	var lastErr error
	for state.Attempt = 1; state.Attempt <= state.MaxAttempts; state.Attempt++ {
		if state.Attempt > 1 {
			delay := t.Backoff(state.Attempt - 1)
			slog.WarnContext(ctx, "upstream attempt failed, retrying",
				"attempt", state.Attempt-1,
				"max_attempts", state.MaxAttempts,
				"backoff", delay,
				"error", lastErr,
			)
			t.recorder.RecordUpstreamRetry(delay)
			if t.onRetry != nil {
				t.onRetry(state, delay, lastErr)
			}
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		stream, err := t.attempt(ctx, body, state.Attempt)
		if err == nil {
			return stream, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
		lastErr = err
	}

	return nil, &ExhaustedError{Attempts: state.MaxAttempts, Last: lastErr}
}

// Backoff returns the wait before retry n (1-based). Delays never decrease.
func (t *Transport) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(t.cfg.InitialBackoff) * math.Pow(t.cfg.BackoffFactor, float64(n-1))
	if d > float64(t.cfg.MaxBackoff) {
		return t.cfg.MaxBackoff
	}
	return time.Duration(d)
}

func (t *Transport) attempt(ctx context.Context, body []byte, n int) (_ *Stream, err error) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "upstream.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("upstream.attempt", n)),
	)
	defer func() {
		outcome := "ok"
		switch {
		case err == nil:
		case IsRejected(err):
			outcome = "rejected"
		case IsTimeout(err):
			outcome = "timeout"
		default:
			outcome = "error"
		}
		t.recorder.RecordUpstreamAttempt(outcome, time.Since(start))
		span.SetAttributes(attribute.String("upstream.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	key, err := t.keys.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upstream api key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Encoding", "identity")
	if key != "" {
		req.Header.Set(t.cfg.APIKeyHeader, key)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	slog.DebugContext(ctx, "opening upstream stream", "url", t.cfg.URL, "attempt", n)

	resp, err := t.client.Do(req)
	if err != nil {
		if isPermanent(err) {
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}
		return nil, &ConnectError{Attempt: n, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectedBody))
		resp.Body.Close()
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	// Wait for the first byte so a reset before any content is still retried.
	reader := bufio.NewReader(resp.Body)
	if _, err := reader.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		resp.Body.Close()
		return nil, &ConnectError{Attempt: n, Cause: fmt.Errorf("read first byte: %w", err)}
	}

	return &Stream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Attempts:   n,
		reader:     reader,
		body:       resp.Body,
	}, nil
}

// isPermanent reports errors that a retry cannot fix.
func isPermanent(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &unknownAuthority) || errors.As(err, &hostname) || errors.As(err, &invalid)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stream is an open upstream response body. Reads after the first byte that
// fail are reported as *StreamError.
type Stream struct {
	// StatusCode is the upstream response status.
	StatusCode int

	// Header holds the upstream response headers.
	Header http.Header

	// Attempts is the number of requests issued, including the successful one.
	Attempts int

	reader    *bufio.Reader
	body      io.ReadCloser
	closeOnce sync.Once
	closeErr  error
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &StreamError{Message: "read failed after stream start", Cause: err}
	}
	return n, err
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// deadlineConn refreshes the read and write deadlines on every call.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
