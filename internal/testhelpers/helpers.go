// Package testhelpers provides common utilities and helper functions for
// testing the GoChat server.
//
// It starts servers on loopback listeners, registers clients and wraps line
// reads with timeouts so tests fail fast instead of hanging.
package testhelpers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-line/internal/chatclient"
	"github.com/Tyrowin/gochat-line/internal/logging"
	"github.com/Tyrowin/gochat-line/internal/server"
)

// DefaultTimeout bounds every helper read and dial.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the origin the WebSocket helpers send and TestConfig allows.
const TestOrigin = "http://localhost:8080"

// TestConfig returns a config suited to tests: loopback address, rate
// limiting off and short write timeouts.
func TestConfig() *server.Config {
	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.RateLimit.Burst = 0
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.HTTP.AllowedOrigins = []string{TestOrigin}
	return cfg
}

// TestLogger logs to stderr at debug level when GOCHAT_TEST_LOG is set and
// discards output otherwise.
func TestLogger() server.Option {
	if os.Getenv("GOCHAT_TEST_LOG") != "" {
		return server.WithLogger(logging.New(os.Stderr, logging.DebugLevel, logging.TextFormat))
	}
	return server.WithLogger(logging.Discard())
}

// StartServer runs a server on a loopback listener and returns it with its
// address. The server is shut down when the test ends.
func StartServer(t *testing.T, cfg *server.Config, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	if cfg == nil {
		cfg = TestConfig()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := server.New(cfg, append([]server.Option{TestLogger()}, opts...)...)
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
			t.Errorf("Server shutdown failed: %v", err)
		}
		select {
		case err := <-served:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				t.Errorf("Serve returned unexpected error: %v", err)
			}
		case <-time.After(DefaultTimeout):
			t.Error("Serve did not return after shutdown")
		}
	})
	return srv, ln.Addr().String()
}

// StartHTTPServer serves srv's routes through httptest.
func StartHTTPServer(t *testing.T, srv *server.Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// Connect registers nickname and fails the test on any error.
func Connect(t *testing.T, addr, nickname string) *chatclient.Client {
	t.Helper()
	c, err := Dial(t, addr, nickname)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", nickname, err)
	}
	return c
}

// Dial attempts a registration and returns the raw result.
func Dial(t *testing.T, addr, nickname string) (*chatclient.Client, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	c, err := chatclient.Dial(ctx, addr, nickname)
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, nil
}

// ReadLine reads one line within DefaultTimeout.
func ReadLine(t *testing.T, c *chatclient.Client) string {
	t.Helper()
	line, err := ReadLineWithin(c, DefaultTimeout)
	if err != nil {
		t.Fatalf("%s: failed to read line: %v", c.Nickname(), err)
	}
	return line
}

// ReadLineWithin reads one line or fails after d.
func ReadLineWithin(c *chatclient.Client, d time.Duration) (string, error) {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// ExpectLine reads one line and compares it with want.
func ExpectLine(t *testing.T, c *chatclient.Client, want string) {
	t.Helper()
	if got := ReadLine(t, c); got != want {
		t.Errorf("%s: expected line %q, got %q", c.Nickname(), want, got)
	}
}

// ExpectPrefix reads one line and checks its prefix.
func ExpectPrefix(t *testing.T, c *chatclient.Client, prefix string) string {
	t.Helper()
	got := ReadLine(t, c)
	if !strings.HasPrefix(got, prefix) {
		t.Errorf("%s: expected line starting with %q, got %q", c.Nickname(), prefix, got)
	}
	return got
}

// ExpectNoLine asserts that nothing arrives within d.
func ExpectNoLine(t *testing.T, c *chatclient.Client, d time.Duration) {
	t.Helper()
	line, err := ReadLineWithin(c, d)
	if err == nil {
		t.Errorf("%s: expected no line, got %q", c.Nickname(), line)
		return
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("%s: expected read timeout, got %v", c.Nickname(), err)
	}
}

// ExpectClosed asserts that the server closes the connection, skipping at
// most a few pending lines.
func ExpectClosed(t *testing.T, c *chatclient.Client) {
	t.Helper()
	for i := 0; i < 16; i++ {
		line, err := ReadLineWithin(c, DefaultTimeout)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				t.Errorf("%s: connection still open", c.Nickname())
			}
			return
		}
		t.Logf("%s: drained %q before close", c.Nickname(), line)
	}
	t.Errorf("%s: connection still delivering lines", c.Nickname())
}

// WaitFor polls cond until it holds or DefaultTimeout elapses.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// ConnectWebSocket dials url with the test origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReadWebSocketLine reads one text message within DefaultTimeout.
func ReadWebSocketLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	return string(msg)
}

// WebSocketURL turns an httptest URL into a ws:// URL for path.
func WebSocketURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
