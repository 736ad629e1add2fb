package server

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Handle is the registry's view of one registered client: its identity and
// an outbound queue drained onto the transport by a single writer
// goroutine. The queue is closed, under the registry lock, when the handle
// leaves the registry; the writer then flushes what is left and closes the
// transport.
type Handle struct {
	nickname   string
	ip         string
	port       int
	generation uuid.UUID

	conn         Conn
	send         chan []byte
	writeTimeout time.Duration
	logger       *slog.Logger

	// guarded by the owning registry's mutex
	closed bool

	done chan struct{}
}

func newHandle(nickname string, conn Conn, queueSize int, writeTimeout time.Duration, logger *slog.Logger) *Handle {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ip, port := splitRemote(conn.RemoteAddr())
	return &Handle{
		nickname:     nickname,
		ip:           ip,
		port:         port,
		generation:   uuid.New(),
		conn:         conn,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		logger:       logger.With("nickname", nickname),
		done:         make(chan struct{}),
	}
}

// Nickname returns the registered nickname.
func (h *Handle) Nickname() string { return h.nickname }

// IP returns the remote IP address.
func (h *Handle) IP() string { return h.ip }

// Port returns the remote port.
func (h *Handle) Port() int { return h.port }

// Generation distinguishes this registration from any later one that
// reuses the nickname.
func (h *Handle) Generation() uuid.UUID { return h.generation }

// Done is closed once the writer goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// start launches the writer goroutine. It must be called once.
func (h *Handle) start() {
	go h.writePump()
}

// enqueue hands a line to the writer without blocking. The caller holds the
// registry lock.
func (h *Handle) enqueue(line []byte) bool {
	if h.closed {
		return false
	}
	select {
	case h.send <- line:
		return true
	default:
		return false
	}
}

// close stops the queue. The caller holds the registry lock.
func (h *Handle) close() {
	if h.closed {
		return
	}
	h.closed = true
	close(h.send)
}

func (h *Handle) writePump() {
	defer func() {
		h.closeConnection()
		close(h.done)
	}()

	for message := range h.send {
		if !h.writeMessage(message) {
			return
		}
	}
}

// writeMessage writes one queued line and returns false if the writer
// should stop.
func (h *Handle) writeMessage(message []byte) bool {
	if err := setWriteDeadline(h.conn, h.writeTimeout); err != nil {
		h.logger.Warn("Error setting write deadline", "remote", h.remote(), "error", err)
		return false
	}
	if _, err := h.conn.Write(message); err != nil {
		if !isExpectedCloseError(err) {
			h.logger.Warn("Error writing message", "remote", h.remote(), "error", err)
		}
		return false
	}
	return true
}

// closeConnection safely closes the transport with proper error handling
func (h *Handle) closeConnection() {
	if err := h.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			h.logger.Debug("Error closing connection in writer", "remote", h.remote(), "error", err)
		}
	}
}

func (h *Handle) remote() string {
	if h.port == 0 {
		return h.ip
	}
	return joinHostPort(h.ip, h.port)
}
