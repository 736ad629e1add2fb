// Package server constructs and starts the optional HTTP listener with
// helpers that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// CreateHTTPServer creates an HTTP server for addr with reasonable timeout
// values for production use. Upgraded WebSocket connections are not
// subject to them.
func CreateHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ListenAndServeHTTP listens on the configured HTTP address and serves the
// routes until Shutdown.
func (s *Server) ListenAndServeHTTP() error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Address)
	if err != nil {
		return err
	}
	return s.ServeHTTPListener(ln)
}

// ServeHTTPListener serves the HTTP routes on ln until Shutdown, then
// returns ErrServerClosed.
func (s *Server) ServeHTTPListener(ln net.Listener) error {
	httpServer := CreateHTTPServer(ln.Addr().String(), s.Routes())

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "address", ln.Addr().String())
	err := httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// ShutdownHTTPServer gracefully shuts down the HTTP server without
// interrupting active requests. It waits for them to finish or until the
// timeout is reached.
func ShutdownHTTPServer(server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("HTTP server shutdown completed")
	return nil
}
