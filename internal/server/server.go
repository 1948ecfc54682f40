// Package server runs the relay's HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/infra/config"
)

// Server wraps the HTTP server.
type Server struct {
	config config.ServerConfig
	http   *http.Server
	log    zerolog.Logger
}

// NewServer creates an HTTP server for handler with the listener settings in cfg.
func NewServer(handler http.Handler, cfg config.ServerConfig, log zerolog.Logger) *Server {
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return &Server{config: cfg, http: httpServer, log: log}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

// ShutdownTimeout bounds the drain after a stop signal.
func (s *Server) ShutdownTimeout() time.Duration { return s.config.ShutdownTimeout }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("server listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. Request contexts derive from ctx, so
// cancelling ctx ends in-flight streams and lets Shutdown drain quickly.
// It returns nil once Shutdown was called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	s.log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down relay")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info().Msg("relay shutdown complete")
	return nil
}
