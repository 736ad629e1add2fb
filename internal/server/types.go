// Package server defines the transport abstraction shared by TCP and
// WebSocket sessions, along with small connection helpers.
package server

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a bidirectional byte stream carrying the line protocol. A
// *net.TCPConn satisfies it, as does the WebSocket bridge.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// setReadDeadline applies a deadline d from now when the transport supports
// it. A non-positive d clears the deadline.
func setReadDeadline(conn Conn, d time.Duration) error {
	rd, ok := conn.(readDeadliner)
	if !ok {
		return nil
	}
	if d <= 0 {
		return rd.SetReadDeadline(time.Time{})
	}
	return rd.SetReadDeadline(time.Now().Add(d))
}

func setWriteDeadline(conn Conn, d time.Duration) error {
	wd, ok := conn.(writeDeadliner)
	if !ok || d <= 0 {
		return nil
	}
	return wd.SetWriteDeadline(time.Now().Add(d))
}

// splitRemote returns the IP and port of addr. Addresses that are not
// host:port pairs come back whole with port 0.
func splitRemote(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

func joinHostPort(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
