// Package server bridges WebSocket connections onto the line protocol so a
// browser client runs the same Session as a TCP client.
package server

import (
	"bytes"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-line/internal/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// wsConn adapts a *websocket.Conn to Conn. Each inbound message is one
// line; each outbound line is one text message without its delimiter.
type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// read side, owned by the session goroutine
	pending      []byte
	readDeadline time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, maxFrameSize int, logger *slog.Logger) *wsConn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &wsConn{
		ws:     ws,
		logger: logger.With("remote", ws.RemoteAddr().String(), "transport", "websocket"),
		done:   make(chan struct{}),
	}
	ws.SetReadLimit(int64(maxFrameSize))
	if err := ws.SetReadDeadline(c.effectiveReadDeadline()); err != nil {
		c.logger.Debug("Error setting initial read deadline", "error", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(c.effectiveReadDeadline())
	})
	go c.pingLoop()
	return c
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if len(msg) == 0 || msg[len(msg)-1] != protocol.Delimiter {
			msg = append(msg, protocol.Delimiter)
		}
		c.pending = msg
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := bytes.TrimSuffix(p, []byte{protocol.Delimiter})
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetReadDeadline bounds the next read. The keepalive window still applies
// when t is zero or later.
func (c *wsConn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return c.ws.SetReadDeadline(c.effectiveReadDeadline())
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) effectiveReadDeadline() time.Time {
	keepalive := time.Now().Add(wsPongWait)
	if c.readDeadline.IsZero() || keepalive.Before(c.readDeadline) {
		return keepalive
	}
	return c.readDeadline
}

// Close sends a close frame and closes the socket. Safe to call more than
// once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Debug("Error writing close message", "error", err)
			}
		}
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// pingLoop sends a ping to keep the connection alive
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("Error writing ping message", "error", err)
				}
				_ = c.Close()
				return
			}
		}
	}
}
