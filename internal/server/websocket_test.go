package server_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-line/internal/protocol"
	"github.com/Tyrowin/gochat-line/internal/testhelpers"
)

func sendWebSocketFrame(t *testing.T, conn *websocket.Conn, op protocol.Opcode, payload string) {
	t.Helper()
	msg := append([]byte{byte(op)}, payload...)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("Failed to write WebSocket frame: %v", err)
	}
}

// TestWebSocketBridge verifies that a WebSocket client joins the same room
// as TCP clients and exchanges messages with them.
func TestWebSocketBridge(t *testing.T) {
	srv, addr := testhelpers.StartServer(t, nil)
	ts := testhelpers.StartHTTPServer(t, srv)
	alice := joinRoom(t, addr, "alice")[0]

	ws, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(ts.URL, "/ws"))
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer func() { _ = ws.Close() }()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("webby")); err != nil {
		t.Fatalf("Failed to send nickname: %v", err)
	}
	if want := protocol.Welcome("webby", "GoChat", addr, 2); testhelpers.ReadWebSocketLine(t, ws) != want {
		t.Errorf("Expected welcome %q", want)
	}
	testhelpers.ExpectPrefix(t, alice, "[webby joined from 127.0.0.1:")

	sendWebSocketFrame(t, ws, protocol.OpChat, "hello from the browser")
	testhelpers.ExpectLine(t, alice, "webby> hello from the browser")

	if err := alice.To("webby", "welcome aboard"); err != nil {
		t.Fatalf("To failed: %v", err)
	}
	if got := testhelpers.ReadWebSocketLine(t, ws); got != "from: alice> welcome aboard" {
		t.Errorf("Expected direct message, got %q", got)
	}

	sendWebSocketFrame(t, ws, protocol.OpList, "")
	list := testhelpers.ReadWebSocketLine(t, ws)
	if !strings.HasPrefix(list, protocol.ListHeaderLine+"\n") || !strings.Contains(list, "webby, 127.0.0.1, ") {
		t.Errorf("Unexpected LIST reply %q", list)
	}

	sendWebSocketFrame(t, ws, protocol.OpExit, "")
	testhelpers.ExpectLine(t, alice, "[webby left the room. There are 1 users now]")

	if err := ws.SetReadDeadline(time.Now().Add(testhelpers.DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Expected WebSocket to close after EXIT")
	}
	testhelpers.WaitFor(t, "webby to be deregistered", func() bool { return !srv.Registry().Contains("webby") })
}

// TestWebSocketRejectsDisallowedOrigin verifies the origin check on the
// upgrade.
func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	srv, _ := testhelpers.StartServer(t, nil)
	ts := testhelpers.StartHTTPServer(t, srv)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	tests := []struct {
		name   string
		origin string
	}{
		{name: "foreign origin", origin: "http://evil.example.com"},
		{name: "missing origin", origin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.origin != "" {
				headers.Set("Origin", tt.origin)
			}
			dialer := websocket.Dialer{HandshakeTimeout: testhelpers.DefaultTimeout}
			conn, resp, err := dialer.Dial(url, headers)
			if resp != nil && resp.Body != nil {
				defer func() { _ = resp.Body.Close() }()
			}
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected upgrade to be refused")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected 403, got %v", resp)
			}
		})
	}
}

// TestWebSocketMethodNotAllowed verifies that the endpoint only takes GET.
func TestWebSocketMethodNotAllowed(t *testing.T) {
	srv, _ := testhelpers.StartServer(t, nil)
	ts := testhelpers.StartHTTPServer(t, srv)

	resp := testhelpers.MakeRequest(t, http.MethodPost, ts.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}
