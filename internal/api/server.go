// Package api serves the bridge's local ops endpoints: health, in-flight
// tasks and a server-sent event stream of bridge activity.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/synapse-bridge/internal/bridge"
	"github.com/mattjoyce/synapse-bridge/internal/events"
)

// BridgeState is the read side of a running bridge.
type BridgeState interface {
	Status() bridge.Status
	ActiveTasks() []bridge.ActiveTask
}

// Config is the listener and auth setup for the ops API.
type Config struct {
	Listen string
	// APIKey protects /tasks and /events when set.
	APIKey string
}

const (
	shutdownGrace    = 5 * time.Second
	defaultKeepAlive = 15 * time.Second
)

// Server exposes bridge state over HTTP.
type Server struct {
	config    Config
	bridge    BridgeState
	events    *events.Hub
	logger    *slog.Logger
	startedAt time.Time
	keepAlive time.Duration
}

func New(config Config, state BridgeState, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		bridge:    state,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		keepAlive: defaultKeepAlive,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.routes() }

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully. Open
// event streams observe ctx through the request context.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("API server listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.With(s.requireKey).Get("/tasks", s.handleTasks)
	r.With(s.requireKey).Get("/events", s.handleEvents)

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
