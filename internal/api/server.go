// Package api is the HTTP transport for the method channel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/telbridge/internal/auth"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/events"
)

// maxRequestBytes bounds a POST /invoke body.
const maxRequestBytes = 1 << 20

// CommandHandler resolves one named command. *dispatch.Dispatcher satisfies it.
type CommandHandler interface {
	Handle(ctx context.Context, name string, args map[string]any) dispatch.Result
}

// DepthReporter reports how many messages are waiting for the radio.
type DepthReporter interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token with every scope.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

type Server struct {
	config    Config
	commands  CommandHandler
	outbox    DepthReporter
	events    *events.Hub
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

type Option func(*Server)

// WithOutbox reports outbox depth on /healthz.
func WithOutbox(d DepthReporter) Option {
	return func(s *Server) { s.outbox = d }
}

// WithEvents serves hub on /events.
func WithEvents(hub *events.Hub) Option {
	return func(s *Server) { s.events = hub }
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(config Config, commands CommandHandler, opts ...Option) *Server {
	s := &Server{
		config:    config,
		commands:  commands,
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/invoke", s.handleInvoke)
		if s.events != nil {
			r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		}
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
