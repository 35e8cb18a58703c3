package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/relay/internal/upstreamtest"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestTransport(t *testing.T, url string, opts ...Option) *Transport {
	t.Helper()
	tr, err := NewTransport(TransportConfig{
		URL:            url,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   time.Second,
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		BackoffFactor:  2,
	}, opts...)
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

func TestTransport_OpenSendsHeadersAndStreams(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{
		Lines: []string{upstreamtest.Delta("hi"), upstreamtest.Done},
	})
	defer srv.Close()

	tr := newTestTransport(t, srv.URL(), WithKeySource(StaticKey("secret")))

	stream, err := tr.Open(context.Background(), []byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(string(data), "[DONE]") {
		t.Errorf("stream body = %q, want [DONE]", data)
	}
	if stream.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", stream.Attempts)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	h := reqs[0].Header
	wantHeaders := map[string]string{
		"Content-Type":    "application/json",
		"Accept":          "text/event-stream",
		"Accept-Encoding": "identity",
		"X-Api-Key":       "secret",
	}
	for k, v := range wantHeaders {
		if got := h.Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if reqs[0].Body["messages"] == nil {
		t.Errorf("request body not forwarded: %v", reqs[0].Body)
	}
}

func TestTransport_RetriesResetBeforeFirstByte(t *testing.T) {
	tests := []struct {
		name   string
		script upstreamtest.Script
	}{
		{name: "reset before headers", script: upstreamtest.Script{ResetBeforeHeaders: true}},
		{name: "reset after headers", script: upstreamtest.Script{ResetAfterHeaders: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := upstreamtest.NewServer(tt.script)
			defer srv.Close()

			rec := &sleepRecorder{}
			tr := newTestTransport(t, srv.URL(), WithSleep(rec.sleep))

			_, err := tr.Open(context.Background(), []byte(`{}`))
			if err == nil {
				t.Fatal("expected error")
			}

			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) {
				t.Fatalf("expected *ExhaustedError, got %T: %v", err, err)
			}
			if !errors.Is(err, ErrTransient) {
				t.Error("exhausted error should match ErrTransient")
			}
			if IsRejected(err) {
				t.Error("exhausted error should not be a rejection")
			}
			if got := srv.RequestCount(); got != 3 {
				t.Errorf("requests = %d, want 3", got)
			}

			delays := rec.recorded()
			if len(delays) != 2 {
				t.Fatalf("backoff waits = %d, want 2", len(delays))
			}
			for i := 1; i < len(delays); i++ {
				if delays[i] < delays[i-1] {
					t.Errorf("backoff decreased: %v", delays)
				}
			}
		})
	}
}

func TestTransport_RecoversAfterTransientFailure(t *testing.T) {
	srv := upstreamtest.NewServer(
		upstreamtest.Script{ResetBeforeHeaders: true},
		upstreamtest.Script{Lines: []string{upstreamtest.Delta("ok"), upstreamtest.Done}},
	)
	defer srv.Close()

	var retries []RetryState
	tr := newTestTransport(t, srv.URL(),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithOnRetry(func(s RetryState, _ time.Duration, _ error) { retries = append(retries, s) }),
	)

	stream, err := tr.Open(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	if stream.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", stream.Attempts)
	}
	if len(retries) != 1 || retries[0].Attempt != 2 || retries[0].Remaining() != 1 {
		t.Errorf("retry states = %+v", retries)
	}
}

func TestTransport_ResetAfterStreamStartIsNotRetried(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{
		Lines:           []string{upstreamtest.Delta("first"), upstreamtest.Delta("never")},
		ResetAfterLines: 1,
	})
	defer srv.Close()

	tr := newTestTransport(t, srv.URL())

	stream, err := tr.Open(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %T: %v", err, err)
	}
	if !strings.Contains(string(data), "first") {
		t.Errorf("partial data = %q, want first line", data)
	}
	if got := srv.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestTransport_RejectedIsNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "unauthorized", status: http.StatusUnauthorized},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "server error", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := upstreamtest.NewServer(upstreamtest.Script{StatusCode: tt.status, Body: "nope"})
			defer srv.Close()

			tr := newTestTransport(t, srv.URL())

			_, err := tr.Open(context.Background(), []byte(`{}`))
			var rejected *RejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected *RejectedError, got %T: %v", err, err)
			}
			if rejected.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", rejected.StatusCode, tt.status)
			}
			if rejected.Body != "nope" {
				t.Errorf("Body = %q, want nope", rejected.Body)
			}
			if errors.Is(err, ErrTransient) {
				t.Error("rejection should not match ErrTransient")
			}
			if got := srv.RequestCount(); got != 1 {
				t.Errorf("requests = %d, want 1", got)
			}
		})
	}
}

func TestTransport_StallBeforeFirstByteTimesOut(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{Stall: true})
	defer srv.Close()

	tr, err := NewTransport(TransportConfig{
		URL:            srv.URL(),
		ReadTimeout:    100 * time.Millisecond,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	defer tr.Close()

	start := time.Now()
	_, err = tr.Open(context.Background(), []byte(`{}`))

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T: %v", err, err)
	}
	if !IsTimeout(err) {
		t.Errorf("expected timeout cause, got %v", err)
	}
	if exhausted.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", exhausted.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Open took %v, read timeout not applied", elapsed)
	}
}

func TestTransport_ContextCancelledDuringBackoff(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{ResetBeforeHeaders: true})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := newTestTransport(t, srv.URL(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := tr.Open(ctx, []byte(`{}`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := srv.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestTransport_KeySourceConsultedPerAttempt(t *testing.T) {
	srv := upstreamtest.NewServer(
		upstreamtest.Script{ResetBeforeHeaders: true},
		upstreamtest.Script{Lines: []string{upstreamtest.Done}},
	)
	defer srv.Close()

	var calls atomic.Int32
	keys := KeySourceFunc(func(context.Context) (string, error) {
		n := calls.Add(1)
		if n == 1 {
			return "old", nil
		}
		return "rotated", nil
	})

	tr := newTestTransport(t, srv.URL(), WithKeySource(keys),
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	stream, err := tr.Open(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	stream.Close()

	reqs := srv.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if got := reqs[1].Header.Get("X-API-Key"); got != "rotated" {
		t.Errorf("second attempt key = %q, want rotated", got)
	}
}

func TestTransport_KeySourceFailureIsTerminal(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{Lines: []string{upstreamtest.Done}})
	defer srv.Close()

	wantErr := errors.New("vault sealed")
	tr := newTestTransport(t, srv.URL(), WithKeySource(KeySourceFunc(func(context.Context) (string, error) {
		return "", wantErr
	})))

	_, err := tr.Open(context.Background(), []byte(`{}`))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected key error, got %v", err)
	}
	if errors.Is(err, ErrTransient) {
		t.Error("key failure should not be transient")
	}
	if got := srv.RequestCount(); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestTransport_EmptyBody(t *testing.T) {
	srv := upstreamtest.NewServer(upstreamtest.Script{})
	defer srv.Close()

	tr := newTestTransport(t, srv.URL())

	stream, err := tr.Open(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil || len(data) != 0 {
		t.Errorf("ReadAll() = %q, %v; want empty, nil", data, err)
	}
	if got := srv.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestTransport_Backoff(t *testing.T) {
	tr, err := NewTransport(TransportConfig{
		URL:            "http://upstream.invalid",
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  3,
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{retry: 0, want: 0},
		{retry: 1, want: 100 * time.Millisecond},
		{retry: 2, want: 300 * time.Millisecond},
		{retry: 3, want: 900 * time.Millisecond},
		{retry: 4, want: time.Second},
		{retry: 10, want: time.Second},
	}
	for _, tt := range tests {
		if got := tr.Backoff(tt.retry); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestNewTransport_Defaults(t *testing.T) {
	if _, err := NewTransport(TransportConfig{}); err == nil {
		t.Error("expected error for missing url")
	}

	tr, err := NewTransport(TransportConfig{URL: "http://upstream.invalid"})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	cfg := tr.Config()
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.ConnectTimeout != DefaultConnectTimeout || cfg.ReadTimeout != DefaultReadTimeout || cfg.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("timeouts = %v/%v/%v", cfg.ConnectTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if cfg.APIKeyHeader != DefaultAPIKeyHeader {
		t.Errorf("APIKeyHeader = %q", cfg.APIKeyHeader)
	}
}
