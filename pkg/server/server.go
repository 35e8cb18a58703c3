package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/telemetry/health"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// ChatPath is the route of the chat endpoint.
const ChatPath = "/api/chat"

// Routes are the handlers mounted by the server.
type Routes struct {
	// Chat serves POST /api/chat.
	Chat http.Handler

	// Health serves /health and /ready. Optional.
	Health *health.Checker

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

// Server is the relay's HTTP server.
type Server struct {
	config     *config.ServerConfig
	routes     Routes
	tlsConfig  *tls.Config
	httpServer *http.Server
	mu         sync.RWMutex
	addr       net.Addr
	running    bool
	shutdown   sync.Once
	stopErr    error
}

// Option configures a Server.
type Option func(*Server)

// WithTLSConfig serves HTTPS. The config must provide its certificate
// through Certificates or GetCertificate.
func WithTLSConfig(c *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = c }
}

// New creates a server.
func New(cfg *config.ServerConfig, routes Routes, opts ...Option) *Server {
	s := &Server{config: cfg, routes: routes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully. It returns nil after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}

	// WriteTimeout stays at the configured value, which defaults to zero:
	// a streamed response lives as long as the upstream keeps sending.
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}
	s.addr = ln.Addr()
	s.running = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting relay server", "address", ln.Addr().String(), "tls", s.tlsConfig != nil)
		var err error
		if s.tlsConfig != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		if err != nil {
			return err
		}
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections and waits up to the shutdown
// timeout for in-flight streams, then closes the ones still open. Only the
// first call has an effect.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()
		if srv == nil {
			return
		}

		slog.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "error", err)
			s.stopErr = fmt.Errorf("server shutdown error: %w", err)

			// Streams still open past the timeout are cut so their handlers
			// see a cancelled context and release the upstream.
			if err := srv.Close(); err != nil {
				slog.Error("error closing active connections", "error", err)
			}
			slog.Warn("closed active streams after shutdown timeout")
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		slog.Info("relay server stopped")
	})
	return s.stopErr
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Handler returns the router with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(&s.config.CORS))

	if s.routes.Chat != nil {
		r.Method(http.MethodPost, ChatPath, s.routes.Chat)
	}
	if s.routes.Health != nil {
		live, ready := s.routes.Health.LivenessHandler(), s.routes.Health.ReadinessHandler()
		r.Get("/health", live)
		r.Head("/health", live)
		r.Get("/ready", ready)
		r.Head("/ready", ready)
	}
	if s.routes.Metrics != nil && s.routes.MetricsPath != "" {
		r.Method(http.MethodGet, s.routes.MetricsPath, s.routes.Metrics)
	}
	return r
}
