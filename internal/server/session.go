// Package server drives one connection from handshake to termination: the
// Session type and its state machine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-line/internal/journal"
	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// State is the liveness of a session. It only ever moves forward.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Termination reasons.
const (
	reasonExit       = "exit"
	reasonStrike     = "strike"
	reasonDisconnect = "disconnect"
)

const journalTimeout = 2 * time.Second

// Session serves one connection.
type Session struct {
	srv      *Server
	conn     Conn
	reader   *protocol.FrameReader
	limiter  *rateLimiter
	logger   *slog.Logger
	remote   string
	nickname string
	handle   *Handle

	state  atomic.Int32
	reason string
}

func newSession(srv *Server, conn Conn) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		srv:     srv,
		conn:    conn,
		reader:  protocol.NewFrameReader(conn, srv.cfg.MaxFrameSize),
		limiter: newRateLimiter(srv.cfg.RateLimit),
		logger:  srv.logger.With("remote", remote),
		remote:  remote,
	}
}

// State returns the current liveness state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Nickname returns the registered nickname, empty before the handshake.
func (s *Session) Nickname() string {
	return s.nickname
}

func (s *Session) registry() *Registry {
	return s.srv.registry
}

// Run performs the handshake and then serves commands until the session
// terminates. A rejected handshake returns a *RejectionError.
func (s *Session) Run() error {
	if err := s.handshake(); err != nil {
		s.state.Store(int32(StateTerminated))
		s.closeConn()
		return err
	}
	s.serve()
	s.teardown()
	return nil
}

// terminate moves an active session to Terminated. Only the first caller
// wins and gets true.
func (s *Session) terminate(reason string) bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateTerminated)) {
		return false
	}
	s.reason = reason
	return true
}

func (s *Session) handshake() error {
	s.state.Store(int32(StateHandshaking))

	if s.registry().Len() >= s.registry().Capacity() {
		return s.rejectWith(ErrRoomFull, protocol.RoomFullLine, "")
	}

	if err := setReadDeadline(s.conn, s.srv.cfg.HandshakeTimeout); err != nil {
		s.logger.Debug("Error setting handshake deadline", "error", err)
	}
	raw, err := s.reader.ReadLine()
	if err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return s.rejectWith(ErrInvalidNickname, protocol.InvalidNicknameLine, "")
		}
		if isTimeout(err) {
			err = ErrHandshakeTimeout
		}
		s.logger.Debug("Connection closed before handshake", "error", err)
		return fmt.Errorf("read nickname: %w", err)
	}
	if err := setReadDeadline(s.conn, 0); err != nil {
		s.logger.Debug("Error clearing handshake deadline", "error", err)
	}

	nickname := protocol.ParseNickname(raw)
	if err := protocol.ValidateNickname(nickname); err != nil {
		return s.rejectWith(err, protocol.InvalidNicknameLine, nickname)
	}

	h := newHandle(nickname, s.conn, s.srv.cfg.SendQueueSize, s.srv.cfg.WriteTimeout, s.srv.logger)
	occupancy := 0
	err = s.registry().Update(func(tx *Tx) error {
		if err := tx.Insert(h); err != nil {
			return err
		}
		occupancy = tx.Len()
		tx.Send(h, protocol.Welcome(nickname, s.srv.cfg.RoomName, s.srv.advertisedAddress(), occupancy))
		tx.Broadcast(protocol.Joined(nickname, h.ip, h.port, occupancy), nickname)
		return nil
	})
	switch {
	case errors.Is(err, ErrNicknameTaken):
		return s.rejectWith(err, protocol.NicknameTakenLine, nickname)
	case errors.Is(err, ErrRoomFull):
		return s.rejectWith(err, protocol.RoomFullLine, nickname)
	case err != nil:
		return err
	}

	h.start()
	s.handle = h
	s.nickname = nickname
	s.logger = s.logger.With("nickname", nickname)
	s.state.Store(int32(StateActive))

	s.logger.Info(fmt.Sprintf("%s joined from %s. There are %d users in the room", nickname, h.remote(), occupancy))
	s.record(journal.Event{
		Kind:      journal.KindJoin,
		Nickname:  nickname,
		Remote:    s.remote,
		Occupancy: occupancy,
	})
	return nil
}

// rejectWith writes the rejection line straight to the transport; no
// handle exists yet.
func (s *Session) rejectWith(reason error, line, nickname string) error {
	if err := setWriteDeadline(s.conn, s.srv.cfg.WriteTimeout); err != nil {
		s.logger.Debug("Error setting write deadline", "error", err)
	}
	if _, err := s.conn.Write(protocol.EncodeLine(line)); err != nil && !isExpectedCloseError(err) {
		s.logger.Warn("Error writing handshake rejection", "error", err)
	}
	s.logger.Info("Handshake rejected", "nickname", nickname, "reason", reason)
	s.record(journal.Event{
		Kind:      journal.KindReject,
		Nickname:  nickname,
		Remote:    s.remote,
		Reason:    reason.Error(),
		Occupancy: s.registry().Len(),
	})
	return reject(reason, line)
}

func (s *Session) serve() {
	for s.State() == StateActive {
		if err := setReadDeadline(s.conn, s.srv.cfg.IdleTimeout); err != nil {
			s.logger.Debug("Error setting read deadline", "error", err)
		}

		raw, err := s.reader.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.logger.Warn("Frame exceeded maximum size", "max", s.reader.MaxFrameSize())
				_ = s.reply(protocol.FrameTooLargeLine)
				continue
			}
			s.handleReadError(err)
			s.terminate(reasonDisconnect)
			return
		}

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			continue
		}
		s.handleFrame(frame)
	}
}

// handleReadError logs read failures by kind.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Debug("Client closed connection")
	case isTimeout(err):
		s.logger.Info("Client idle timeout reached")
	case isExpectedCloseError(err):
		s.logger.Debug("Client connection closed", "error", err)
	default:
		s.logger.Warn("Read error", "error", err)
	}
}

func (s *Session) handleFrame(frame protocol.Frame) {
	logger := s.logger.With("opcode", frame.Op.String())

	if s.moderated(frame.Op) {
		if phrase, hit := s.srv.moderator.Match(frame.Payload); hit {
			s.strike(phrase)
			return
		}
	}

	if frame.Op != protocol.OpExit && !s.limiter.allow() {
		logger.Warn("Discarding command", "error", ErrRateLimited,
			"burst", s.limiter.cfg.Burst, "interval", s.limiter.cfg.RefillInterval)
		_ = s.reply(protocol.RateLimitedLine)
		return
	}

	err := s.srv.dispatcher.Dispatch(s, frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotRegistered):
		logger.Debug("Dropping command from a session that was removed")
	case errors.Is(err, ErrUnknownOpcode), errors.Is(err, ErrMalformedPayload):
		logger.Debug("Protocol violation", "error", err)
	default:
		logger.Debug("Command rejected", "error", err)
	}
}

func (s *Session) moderated(op protocol.Opcode) bool {
	if !s.srv.cfg.Moderation.Enabled {
		return false
	}
	return s.srv.cfg.Moderation.Scope != ModerationScopeChat || op == protocol.OpChat
}

// strike notifies the sender, removes it and tells everyone else, all in
// one critical section. The payload goes nowhere.
func (s *Session) strike(phrase string) {
	occupancy := 0
	err := s.update(func(tx *Tx) error {
		tx.Send(s.handle, protocol.ProhibitedNoticeLine)
		tx.RemoveHandle(s.handle)
		occupancy = tx.Len()
		tx.Broadcast(protocol.Removed(s.nickname, occupancy))
		return nil
	})
	if err != nil || !s.terminate(reasonStrike) {
		return
	}

	s.logger.Info(fmt.Sprintf("%s is removed for sending prohibited message. There are %d users now", s.nickname, occupancy),
		"phrase", phrase)
	s.record(journal.Event{
		Kind:      journal.KindStrike,
		Nickname:  s.nickname,
		Remote:    s.remote,
		Reason:    "prohibited phrase",
		Occupancy: occupancy,
	})
}

// reply enqueues one line for this session's own client.
func (s *Session) reply(text string) error {
	return s.update(func(tx *Tx) error {
		tx.Send(s.handle, text)
		return nil
	})
}

// update runs fn in one registry critical section on behalf of this
// session. Once another session or shutdown has removed this session's
// handle, fn does not run and the session terminates.
func (s *Session) update(fn func(tx *Tx) error) error {
	err := s.registry().Update(func(tx *Tx) error {
		if !tx.Owns(s.handle) {
			return ErrNotRegistered
		}
		return fn(tx)
	})
	if errors.Is(err, ErrNotRegistered) {
		s.terminate(reasonDisconnect)
	}
	return err
}

// teardown deregisters the session if nobody else already did, then waits
// for the writer to flush before closing the transport.
func (s *Session) teardown() {
	occupancy := 0
	removed := false
	_ = s.registry().Update(func(tx *Tx) error {
		if tx.RemoveHandle(s.handle) {
			removed = true
			occupancy = tx.Len()
			tx.Broadcast(protocol.Left(s.nickname, occupancy))
		}
		return nil
	})
	if removed {
		s.logger.Info(fmt.Sprintf("%s disconnected. There are %d users now", s.nickname, occupancy))
		s.record(journal.Event{
			Kind:      journal.KindLeave,
			Nickname:  s.nickname,
			Remote:    s.remote,
			Reason:    s.reason,
			Occupancy: occupancy,
		})
	}

	select {
	case <-s.handle.Done():
	case <-time.After(s.srv.cfg.WriteTimeout):
		s.logger.Warn("Writer did not finish flushing before timeout")
	}
	s.closeConn()
	s.logger.Debug("Session ended", "reason", s.reason)
}

func (s *Session) closeConn() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("Error closing connection", "error", err)
	}
}

// record writes a journal event. Journal failures are logged and ignored.
func (s *Session) record(event journal.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := s.srv.journal.Record(ctx, event); err != nil {
		s.logger.Warn("Error recording journal event", "kind", event.Kind, "error", err)
	}
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
