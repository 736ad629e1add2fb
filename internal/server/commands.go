package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-line/internal/journal"
	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// splitTarget splits "<nickname> <message>" at the first space.
func splitTarget(payload string) (target, message string, ok bool) {
	return strings.Cut(payload, " ")
}

func handleList(s *Session, _ string) error {
	return s.update(func(tx *Tx) error {
		tx.Send(s.handle, protocol.List(tx.Entries()))
		return nil
	})
}

func handleTo(s *Session, payload string) error {
	target, message, ok := splitTarget(payload)
	if !ok {
		return fmt.Errorf("%w: TO without message", ErrMalformedPayload)
	}
	return s.update(func(tx *Tx) error {
		h, exists := tx.Get(target)
		if !exists {
			tx.Send(s.handle, protocol.UnknownUser(target))
			return fmt.Errorf("%w: %s", ErrUnknownUser, target)
		}
		tx.Send(h, protocol.Direct(s.nickname, message))
		return nil
	})
}

func handleExcept(s *Session, payload string) error {
	excluded, message, ok := splitTarget(payload)
	if !ok {
		return fmt.Errorf("%w: EXCEPT without message", ErrMalformedPayload)
	}
	return s.update(func(tx *Tx) error {
		if excluded == s.nickname {
			tx.Send(s.handle, protocol.ExcludeYourselfLine)
			return ErrSelfTarget
		}
		if !tx.Contains(excluded) {
			tx.Send(s.handle, protocol.UnknownUser(excluded))
			return fmt.Errorf("%w: %s", ErrUnknownUser, excluded)
		}
		tx.Broadcast(protocol.Chat(s.nickname, message), s.nickname, excluded)
		return nil
	})
}

func handleBan(s *Session, payload string) error {
	target := strings.TrimSpace(payload)
	var (
		occupancy int
		banned    *Handle
	)
	err := s.update(func(tx *Tx) error {
		if target == s.nickname {
			tx.Send(s.handle, protocol.BanYourselfLine)
			return ErrSelfTarget
		}
		h, exists := tx.Get(target)
		if !exists {
			tx.Send(s.handle, protocol.UnknownUser(target))
			return fmt.Errorf("%w: %s", ErrUnknownUser, target)
		}
		tx.Send(h, protocol.Banned(s.nickname))
		tx.RemoveHandle(h)
		occupancy = tx.Len()
		tx.Broadcast(protocol.Left(target, occupancy))
		banned = h
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(fmt.Sprintf("%s was banned by %s. There are %d users now", target, s.nickname, occupancy),
		"target", target, "remote", banned.remote())
	s.record(journal.Event{
		Kind:      journal.KindBan,
		Nickname:  target,
		Actor:     s.nickname,
		Remote:    banned.remote(),
		Occupancy: occupancy,
	})
	return nil
}

func handlePing(s *Session, _ string) error {
	start := time.Now()
	return s.update(func(tx *Tx) error {
		tx.Send(s.handle, protocol.RTT(time.Since(start)))
		return nil
	})
}

func handleExit(s *Session, _ string) error {
	removed := false
	occupancy := 0
	_ = s.registry().Update(func(tx *Tx) error {
		if tx.RemoveHandle(s.handle) {
			removed = true
			occupancy = tx.Len()
			tx.Broadcast(protocol.Left(s.nickname, occupancy))
		}
		return nil
	})
	if !s.terminate(reasonExit) || !removed {
		return nil
	}

	s.logger.Info(fmt.Sprintf("%s left the room. There are %d users now", s.nickname, occupancy))
	s.record(journal.Event{
		Kind:      journal.KindLeave,
		Nickname:  s.nickname,
		Remote:    s.remote,
		Reason:    reasonExit,
		Occupancy: occupancy,
	})
	return nil
}

func handleChat(s *Session, payload string) error {
	s.logger.Debug("Received chat message", "message", payload)
	return s.update(func(tx *Tx) error {
		tx.Broadcast(protocol.Chat(s.nickname, payload), s.nickname)
		return nil
	})
}
