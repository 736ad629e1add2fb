package server_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-line/internal/chatclient"
	"github.com/Tyrowin/gochat-line/internal/server"
	"github.com/Tyrowin/gochat-line/internal/testhelpers"
)

// TestGracefulShutdown verifies that the server shuts down with no clients
// and that a second call is a no-op.
func TestGracefulShutdown(t *testing.T) {
	srv, _ := testhelpers.StartServer(t, nil)

	if err := srv.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Server shutdown failed: %v", err)
	}
	if err := srv.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}
}

// TestGracefulShutdownWithClients verifies that active client connections
// are closed and deregistered during graceful shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	srv, addr := testhelpers.StartServer(t, nil)
	clients := joinRoom(t, addr, "alice", "bob", "carol")

	start := time.Now()
	if err := srv.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Server shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Shutdown took too long: %v", elapsed)
	}

	for _, c := range clients {
		testhelpers.ExpectClosed(t, c)
	}
	if n := srv.Registry().Len(); n != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", n)
	}

	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		t.Error("Expected listener to be closed after shutdown")
	}
}

// TestServeAfterShutdown verifies that a closed server refuses new
// listeners and connections.
func TestServeAfterShutdown(t *testing.T) {
	srv := server.New(testhelpers.TestConfig(), testhelpers.TestLogger())
	if err := srv.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := srv.Serve(ln); !errors.Is(err, server.ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed from Serve, got %v", err)
	}

	local, remote := net.Pipe()
	defer func() { _ = remote.Close() }()
	if err := srv.ServeConn(local); !errors.Is(err, server.ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed from ServeConn, got %v", err)
	}
}

// TestConcurrentShutdown races several Shutdown calls against each other.
func TestConcurrentShutdown(t *testing.T) {
	srv, addr := testhelpers.StartServer(t, nil)
	joinRoom(t, addr, "alice", "bob")

	errs := make(chan error, 5)
	for i := 0; i < cap(errs); i++ {
		go func() { errs <- srv.Shutdown(5 * time.Second) }()
	}
	for i := 0; i < cap(errs); i++ {
		if err := <-errs; err != nil {
			t.Errorf("Shutdown %d failed: %v", i, err)
		}
	}
}

// TestShutdownStopsHTTPListener verifies that the optional HTTP listener is
// closed along with the chat listener.
func TestShutdownStopsHTTPListener(t *testing.T) {
	srv, _ := testhelpers.StartServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.ServeHTTPListener(ln) }()

	url := "http://" + ln.Addr().String() + "/"
	testhelpers.WaitFor(t, "the HTTP listener", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	if err := srv.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	select {
	case err := <-served:
		if !errors.Is(err, server.ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("HTTP listener did not stop")
	}
}

func TestCreateHTTPServer(t *testing.T) {
	s := server.CreateHTTPServer(":8081", http.NewServeMux())
	if s.Addr != ":8081" {
		t.Errorf("Expected address :8081, got %s", s.Addr)
	}
	if s.ReadHeaderTimeout == 0 || s.ReadTimeout == 0 || s.WriteTimeout == 0 || s.IdleTimeout == 0 {
		t.Errorf("Expected production timeouts, got %+v", s)
	}
}

// TestShutdownHonorsDeadlineWithStalledWriter verifies that a client that
// stops reading cannot hold shutdown past the caller's deadline, even when
// the write timeout is longer.
func TestShutdownHonorsDeadlineWithStalledWriter(t *testing.T) {
	cfg := testhelpers.TestConfig()
	cfg.WriteTimeout = 10 * time.Second
	srv := server.New(cfg, testhelpers.TestLogger())

	local, remote := net.Pipe()
	defer func() { _ = remote.Close() }()
	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(local) }()

	ctx, cancel := context.WithTimeout(context.Background(), testhelpers.DefaultTimeout)
	defer cancel()
	c, err := chatclient.Handshake(ctx, remote, "alice")
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	// The reply to this PING is never read, so the writer blocks on the
	// unbuffered pipe.
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	start := time.Now()
	err = srv.Shutdown(300 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown overran its deadline: %v", elapsed)
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unexpected shutdown error: %v", err)
	}

	select {
	case <-served:
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("Session did not end after shutdown closed its transport")
	}
}
