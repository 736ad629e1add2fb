package server

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// Handshake rejections.
var (
	ErrRoomFull         = errors.New("room full")
	ErrInvalidNickname  = protocol.ErrInvalidNickname
	ErrNicknameTaken    = errors.New("nickname taken")
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// Protocol violations. The offender gets an error reply and stays connected.
var (
	ErrUnknownOpcode    = errors.New("unknown opcode")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrRateLimited      = errors.New("rate limited")
)

// Registry and server state.
var (
	ErrUnknownUser   = errors.New("user does not exist")
	ErrSelfTarget    = errors.New("command targets its sender")
	ErrNotRegistered = errors.New("session is no longer registered")
	ErrServerClosed  = errors.New("server closed")
	ErrInvalidConfig = errors.New("invalid config")
)

// RejectionError is a failed handshake. Line is what the peer was told.
type RejectionError struct {
	Reason error
	Line   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("handshake rejected: %v", e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

func reject(reason error, line string) *RejectionError {
	return &RejectionError{Reason: reason, Line: line}
}
