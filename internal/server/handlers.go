// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, room status, journal events and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-line/internal/journal"
)

// UserStatus is one connected client in a status reply.
type UserStatus struct {
	Nickname string `json:"nickname"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Room      string       `json:"room"`
	Occupancy int          `json:"occupancy"`
	Capacity  int          `json:"capacity"`
	Users     []UserStatus `json:"users"`
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Events []journal.Event `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// StatusHandler reports occupancy and the connected clients.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	entries := s.registry.Snapshot()
	users := make([]UserStatus, 0, len(entries))
	for _, e := range entries {
		users = append(users, UserStatus{Nickname: e.Nickname, IP: e.IP, Port: e.Port})
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Room:      s.cfg.RoomName,
		Occupancy: len(users),
		Capacity:  s.registry.Capacity(),
		Users:     users,
	})
}

// EventsHandler lists the most recent journal events, newest first.
// The optional limit query parameter caps the count.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	limit := journal.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Error listing journal events", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "journal unavailable"})
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events})
}

// WebSocketHandler upgrades the request and runs a chat session over the
// WebSocket. The first message is the nickname; later messages are frames.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newWSConn(ws, s.cfg.MaxFrameSize, s.logger)
	go func() {
		if err := s.ServeConn(conn); err != nil {
			s.logger.Debug("WebSocket session ended", "remote", r.RemoteAddr, "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

// TestPageHandler serves an HTML page for trying the WebSocket bridge: the
// first message registers the nickname, later ones go out as CHAT frames
// or as raw frames when they start with a slash command.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		http.Error(w, "write failed", http.StatusInternalServerError)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Line Protocol Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 8px; overflow-y: scroll; white-space: pre-wrap; }
        input[type="text"] { width: 320px; padding: 4px; }
    </style>
</head>
<body>
    <h1>GoChat</h1>
    <div>
        <input type="text" id="nick" placeholder="nickname">
        <button id="connect">Connect</button>
    </div>
    <div id="log"></div>
    <div>
        <input type="text" id="input" placeholder="message, or /list /to nick msg /except nick msg /ban nick /ping /exit" disabled>
    </div>
    <script>
        const ops = { list: 1, to: 2, except: 3, ban: 4, ping: 5, exit: 6 };
        const log = document.getElementById('log');
        const input = document.getElementById('input');
        let ws = null;

        function show(line) {
            log.textContent += line + '\n';
            log.scrollTop = log.scrollHeight;
        }

        function frame(text) {
            const m = text.match(/^\/(\w+)\s?(.*)$/);
            if (m && ops[m[1]]) {
                return String.fromCharCode(ops[m[1]]) + m[2];
            }
            return String.fromCharCode(7) + text;
        }

        document.getElementById('connect').onclick = function () {
            if (ws) { ws.close(); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function () {
                ws.send(document.getElementById('nick').value);
                input.disabled = false;
            };
            ws.onmessage = function (event) { show(event.data); };
            ws.onclose = function () {
                show('[connection closed]');
                input.disabled = true;
                ws = null;
            };
        };

        input.addEventListener('keypress', function (e) {
            if (e.key === 'Enter' && ws && input.value) {
                ws.send(frame(input.value));
                input.value = '';
            }
        });
    </script>
</body>
</html>`
