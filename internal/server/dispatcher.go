// Package server routes decoded frames to the command handler registered
// for their opcode.
package server

import (
	"fmt"

	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// CommandHandler executes one command for an active session. It delivers
// its own replies; the returned error only classifies the outcome for
// logging.
type CommandHandler func(s *Session, payload string) error

// Dispatcher maps opcodes to command handlers. The table is fixed at
// construction and read concurrently by every session.
type Dispatcher struct {
	handlers map[protocol.Opcode]CommandHandler
}

// NewDispatcher creates a dispatcher with the standard command set.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[protocol.Opcode]CommandHandler{
		protocol.OpList:   handleList,
		protocol.OpTo:     handleTo,
		protocol.OpExcept: handleExcept,
		protocol.OpBan:    handleBan,
		protocol.OpPing:   handlePing,
		protocol.OpExit:   handleExit,
		protocol.OpChat:   handleChat,
	}}
}

// Dispatch runs the handler for frame.Op. An unknown opcode is answered
// with an invalid-command reply and reported as ErrUnknownOpcode.
func (d *Dispatcher) Dispatch(s *Session, frame protocol.Frame) error {
	handler, exists := d.handlers[frame.Op]
	if !exists {
		if err := s.reply(protocol.InvalidCommand(frame.Op)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d", ErrUnknownOpcode, byte(frame.Op))
	}
	return handler(s, frame.Payload)
}
