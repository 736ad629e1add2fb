// Package server constructs and runs the GoChat line server: the accept
// loop, per-connection sessions and graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-line/internal/journal"
)

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJournal sets the lifecycle journal. The default discards events.
func WithJournal(j journal.Journal) Option {
	return func(s *Server) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithModerator replaces the phrase moderator built from the config.
func WithModerator(m Moderator) Option {
	return func(s *Server) {
		if m != nil {
			s.moderator = m
		}
	}
}

// Server accepts connections and runs one Session per connection against a
// shared Registry.
type Server struct {
	cfg        *Config
	registry   *Registry
	dispatcher *Dispatcher
	moderator  Moderator
	journal    journal.Journal
	logger     *slog.Logger
	origins    *originPolicy

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	conns      map[Conn]struct{}
	httpServer *http.Server
	advertised string

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a Server from cfg. A nil cfg means DefaultConfig().
func New(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.HTTP.AllowedOrigins = append([]string(nil), cfg.HTTP.AllowedOrigins...)
	c.Moderation.ForbiddenPhrases = append([]string(nil), cfg.Moderation.ForbiddenPhrases...)
	c.sanitize()

	s := &Server{
		cfg:        &c,
		dispatcher: NewDispatcher(),
		journal:    journal.Nop{},
		logger:     slog.Default(),
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[Conn]struct{}),
		advertised: c.AdvertiseAddress,
	}
	if c.Moderation.Enabled {
		s.moderator = NewPhraseModerator(c.Moderation.ForbiddenPhrases...)
	} else {
		s.moderator = nopModerator{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(c.Capacity, s.logger)
	s.origins = newOriginPolicy(c.HTTP.AllowedOrigins, s.logger)
	return s
}

// Registry returns the shared client registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Config returns a copy of the effective configuration.
func (s *Server) Config() Config {
	return *s.cfg
}

// ListenAndServe listens on the configured TCP address and serves until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown, then returns
// ErrServerClosed. Temporary accept errors back off and retry.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info("Server listening", "address", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("Accept error; retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		s.logger.Debug("New connection", "remote", conn.RemoteAddr().String())
		go func() {
			_ = s.ServeConn(conn)
		}()
	}
}

// ServeConn runs a session on conn and blocks until it ends. It returns the
// handshake rejection, if any.
func (s *Server) ServeConn(conn Conn) error {
	if !s.trackConn(conn) {
		_ = conn.Close()
		return ErrServerClosed
	}
	defer s.untrackConn(conn)

	return newSession(s, conn).Run()
}

// Shutdown stops accepting, deregisters every client, closes all
// transports and waits for sessions to finish. The whole sequence shares
// one deadline, timeout from now.
func (s *Server) Shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info("Initiating server shutdown...")

	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("Error closing listener", "error", err)
		}
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer != nil {
		if err := ShutdownHTTPServer(httpServer, time.Until(deadline), s.logger); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}

	// Give writers a chance to flush before their transports are closed.
	handles := s.registry.drain()
	flushed := time.NewTimer(time.Until(deadline))
	defer flushed.Stop()
flush:
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-flushed.C:
			s.logger.Warn("Shutdown deadline reached before all writers flushed")
			break flush
		}
	}

	s.mu.Lock()
	for conn := range s.conns {
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("Error closing connection", "error", err)
		}
	}
	count := len(s.conns)
	s.mu.Unlock()
	s.logger.Info("Closed client connections", "count", count, "registered", len(handles))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	finished := time.NewTimer(time.Until(deadline))
	defer finished.Stop()
	select {
	case <-done:
		s.logger.Info("Server shutdown completed successfully")
		return nil
	case <-finished.C:
		s.logger.Warn("Server shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

func (s *Server) advertisedAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertised
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners[ln] = struct{}{}
	if s.advertised == "" {
		s.advertised = ln.Addr().String()
	}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) trackConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(conn Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
