// Package chatclient is a minimal client for the GoChat line protocol. It
// performs the nickname handshake and exposes one method per command.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// maxLineSize bounds a single server line. LIST replies span several lines
// but each line is short.
const maxLineSize = 64 * 1024

// RejectedError is returned by Dial when the server refused the handshake.
// Line is the server's explanation.
type RejectedError struct {
	Line string
}

func (e *RejectedError) Error() string {
	return "handshake rejected: " + e.Line
}

// Client is one registered connection.
type Client struct {
	conn     net.Conn
	reader   *protocol.FrameReader
	nickname string
	welcome  string

	writeMu sync.Mutex
}

// Dial connects to addr and registers nickname. It returns once the welcome
// banner arrives, or a *RejectedError carrying the server's rejection line.
// The context bounds the dial and the handshake.
func Dial(ctx context.Context, addr, nickname string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := Handshake(ctx, conn, nickname)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Handshake registers nickname over an established connection.
func Handshake(ctx context.Context, conn net.Conn, nickname string) (*Client, error) {
	c := &Client{
		conn:     conn,
		reader:   protocol.NewFrameReader(conn, maxLineSize),
		nickname: nickname,
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set handshake deadline: %w", err)
		}
	}

	// The server may already have written a room-full line and closed, so a
	// failed write still leaves a reply worth reading.
	_, werr := conn.Write(protocol.EncodeLine(nickname))

	line, err := c.ReadLine()
	if err != nil {
		if werr != nil {
			return nil, fmt.Errorf("send nickname: %w", werr)
		}
		return nil, fmt.Errorf("read handshake reply: %w", err)
	}
	if !protocol.IsWelcome(line) {
		return nil, &RejectedError{Line: line}
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}
	c.welcome = line
	return c, nil
}

// IsRejected reports whether err is a handshake rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// Nickname returns the registered nickname.
func (c *Client) Nickname() string { return c.nickname }

// Welcome returns the welcome banner received at handshake.
func (c *Client) Welcome() string { return c.welcome }

// LocalAddr returns the client side of the connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Send writes one command frame.
func (c *Client) Send(op protocol.Opcode, payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(protocol.EncodeFrame(op, payload)); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	return nil
}

// SendRaw writes bytes as-is, for probing malformed input.
func (c *Client) SendRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(b)
	return err
}

// Chat broadcasts text to everyone else.
func (c *Client) Chat(text string) error { return c.Send(protocol.OpChat, text) }

// List asks for the connected users.
func (c *Client) List() error { return c.Send(protocol.OpList, "") }

// To sends a direct message.
func (c *Client) To(nickname, text string) error {
	return c.Send(protocol.OpTo, nickname+" "+text)
}

// Except broadcasts to everyone but nickname.
func (c *Client) Except(nickname, text string) error {
	return c.Send(protocol.OpExcept, nickname+" "+text)
}

// Ban removes nickname from the room.
func (c *Client) Ban(nickname string) error { return c.Send(protocol.OpBan, nickname) }

// Ping asks for an RTT reply.
func (c *Client) Ping() error { return c.Send(protocol.OpPing, "") }

// Exit leaves the room.
func (c *Client) Exit() error { return c.Send(protocol.OpExit, "") }

// ReadLine returns the next server line without its delimiter.
func (c *Client) ReadLine() (string, error) {
	raw, err := c.reader.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(protocol.DecodeText(raw), "\r\n"), nil
}

// SetReadDeadline bounds the next ReadLine.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection without sending EXIT.
func (c *Client) Close() error {
	return c.conn.Close()
}
