package chatclient_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-line/internal/chatclient"
	"github.com/Tyrowin/gochat-line/internal/protocol"
	"github.com/Tyrowin/gochat-line/internal/testhelpers"
)

func TestDialReceivesWelcome(t *testing.T) {
	_, addr := testhelpers.StartServer(t, nil)

	c := testhelpers.Connect(t, addr, "alice")
	if c.Nickname() != "alice" {
		t.Errorf("Expected nickname alice, got %q", c.Nickname())
	}
	if want := protocol.Welcome("alice", "GoChat", addr, 1); c.Welcome() != want {
		t.Errorf("Expected welcome %q, got %q", want, c.Welcome())
	}
}

func TestDialRejected(t *testing.T) {
	_, addr := testhelpers.StartServer(t, nil)
	testhelpers.Connect(t, addr, "alice")

	_, err := testhelpers.Dial(t, addr, "alice")
	if !chatclient.IsRejected(err) {
		t.Fatalf("Expected rejection, got %v", err)
	}
	var rejected *chatclient.RejectedError
	if !errors.As(err, &rejected) || rejected.Line != protocol.NicknameTakenLine {
		t.Errorf("Expected nickname taken line, got %v", err)
	}
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := chatclient.Dial(ctx, addr, "alice"); err == nil || chatclient.IsRejected(err) {
		t.Errorf("Expected a dial error, got %v", err)
	}
}

// TestHandshakeOverPipe drives the client against a scripted peer.
func TestHandshakeOverPipe(t *testing.T) {
	local, remote := net.Pipe()
	defer func() { _ = remote.Close() }()

	go func() {
		reader := protocol.NewFrameReader(remote, 0)
		line, err := reader.ReadLine()
		if err != nil {
			return
		}
		nickname := protocol.ParseNickname(line)
		_, _ = remote.Write(protocol.EncodeLine(protocol.Welcome(nickname, "Test", "pipe", 1)))

		frame, err := reader.ReadFrame()
		if err != nil || frame.Op != protocol.OpTo {
			return
		}
		_, _ = remote.Write(protocol.EncodeLine("echo: " + frame.Payload))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), testhelpers.DefaultTimeout)
	defer cancel()
	c, err := chatclient.Handshake(ctx, local, "bob")
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	if c.Welcome() != protocol.Welcome("bob", "Test", "pipe", 1) {
		t.Errorf("Unexpected welcome %q", c.Welcome())
	}
	if err := c.To("alice", "two\nlines"); err != nil {
		t.Fatalf("To failed: %v", err)
	}
	testhelpers.ExpectLine(t, c, "echo: alice two lines")
}
