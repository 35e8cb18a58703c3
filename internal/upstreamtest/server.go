// Package upstreamtest provides a scripted upstream chat service for tests.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Script describes how the server answers one request.
type Script struct {
	// StatusCode is the response status. Default: 200
	StatusCode int

	// Body is written verbatim for non-2xx responses.
	Body string

	// Lines are written one at a time, each followed by a newline and a flush.
	Lines []string

	// LineDelay is the pause before each line.
	LineDelay time.Duration

	// ResetBeforeHeaders closes the connection without writing a response.
	ResetBeforeHeaders bool

	// ResetAfterHeaders flushes the headers then closes the connection.
	ResetAfterHeaders bool

	// ResetAfterLines closes the connection after this many lines (>0).
	ResetAfterLines int

	// Stall blocks after the lines until the client goes away.
	Stall bool
}

// Request is what the server recorded for one request.
type Request struct {
	Header http.Header
	Body   map[string]any
}

// Server is a fake upstream. Requests consume scripts in order; the last
// script repeats once the list is exhausted.
type Server struct {
	server   *httptest.Server
	mu       sync.Mutex
	scripts  []Script
	requests []Request
	gone     chan struct{}
	goneOnce sync.Once
}

// NewServer starts a server answering with scripts.
func NewServer(scripts ...Script) *Server {
	s := &Server{scripts: scripts, gone: make(chan struct{})}
	s.server = httptest.NewServer(http.HandlerFunc(s.handler))
	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
}

// RequestCount returns the number of requests received.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ClientGone is closed when a stalled or streaming handler observes the
// client closing its connection.
func (s *Server) ClientGone() <-chan struct{} {
	return s.gone
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, Request{Header: r.Header.Clone(), Body: body})
	var script Script
	if len(s.scripts) > 0 {
		if idx >= len(s.scripts) {
			idx = len(s.scripts) - 1
		}
		script = s.scripts[idx]
	}
	s.mu.Unlock()

	if script.ResetBeforeHeaders {
		hijackClose(w)
		return
	}

	status := script.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status >= 300 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, script.Body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	flusher.Flush()

	if script.ResetAfterHeaders {
		hijackClose(w)
		return
	}

	for i, line := range script.Lines {
		if script.LineDelay > 0 {
			select {
			case <-time.After(script.LineDelay):
			case <-r.Context().Done():
				s.markGone()
				return
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			s.markGone()
			return
		}
		flusher.Flush()
		if script.ResetAfterLines > 0 && i+1 >= script.ResetAfterLines {
			hijackClose(w)
			return
		}
	}

	if script.Stall {
		<-r.Context().Done()
		s.markGone()
	}
}

func (s *Server) markGone() {
	s.goneOnce.Do(func() { close(s.gone) })
}

// hijackClose drops the connection without a clean chunked terminator.
func hijackClose(w http.ResponseWriter) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// Delta returns an upstream line carrying one content delta.
func Delta(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]any{"content": text}},
		},
	})
	return "data: " + string(b)
}

// Done is the upstream terminal line.
const Done = "data: [DONE]"
