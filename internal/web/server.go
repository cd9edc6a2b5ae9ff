// Package web serves the display model and the track selector over HTTP
// and a WebSocket stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/beacon-gps/trackview/internal/session"
	"github.com/beacon-gps/trackview/internal/view"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	shutdownTimeout = 5 * time.Second
)

// Caller runs fn on the event loop and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server of the viewer.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   logging.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig, sess *session.Session, v *view.Controller, loop Caller, logger logging.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		handlers: NewHandlers(sess, v, loop, logger),
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	// WriteTimeout stays zero by default; it would cut off the stream.
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/view", s.handlers.View)
	s.router.Get("/api/tracks", s.handlers.Tracks)
	s.router.Post("/api/tracks/reload", s.handlers.ReloadTracks)
	s.router.Put("/api/active", s.handlers.Select)
	s.router.Get("/api/active/track", s.handlers.ActiveTrack)
	s.router.Get("/api/active/marker", s.handlers.ActiveMarker)
	s.router.Get("/ws", s.handlers.Stream)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.handlers.closeStreams()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
