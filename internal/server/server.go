package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for the HTTP listener.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	Handler http.Handler

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight requests. Defaults to 30s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Server serves the router until its context is cancelled.
type Server struct {
	config ServerConfig
	log    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{config: cfg, log: cfg.Logger.With("component", "http")}
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
// On cancellation it stops accepting connections and waits up to
// ShutdownTimeout for in-flight requests before closing them.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.config.Handler,
		TLSConfig:         s.config.TLSConfig,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	s.log.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if s.config.TLSConfig != nil {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("shutdown timeout reached, forcing close", "error", err)
		_ = srv.Close()
	} else {
		s.log.Info("all requests completed")
	}
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
