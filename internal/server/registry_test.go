package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/Tyrowin/gochat-line/internal/logging"
	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// newTestHandle builds an unstarted handle over one end of a pipe. Tests
// read queued lines straight from its send channel.
func newTestHandle(t *testing.T, nickname string) *Handle {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	return newHandle(nickname, local, 16, defaultWriteTimeout, logging.Discard())
}

func newTestRegistry(capacity int) *Registry {
	return NewRegistry(capacity, logging.Discard())
}

// queued drains every line currently waiting in h's queue.
func queued(h *Handle) []string {
	var lines []string
	for {
		select {
		case msg, ok := <-h.send:
			if !ok {
				return lines
			}
			lines = append(lines, strings.TrimSuffix(string(msg), "\n"))
		default:
			return lines
		}
	}
}

func insert(t *testing.T, r *Registry, h *Handle) {
	t.Helper()
	if err := r.Update(func(tx *Tx) error { return tx.Insert(h) }); err != nil {
		t.Fatalf("Insert(%s) failed: %v", h.Nickname(), err)
	}
}

// TestRegistryInsertEnforcesUniquenessAndCapacity verifies that a nickname
// is registered at most once and that the room never exceeds capacity.
func TestRegistryInsertEnforcesUniquenessAndCapacity(t *testing.T) {
	r := newTestRegistry(2)

	insert(t, r, newTestHandle(t, "alice"))

	err := r.Update(func(tx *Tx) error { return tx.Insert(newTestHandle(t, "alice")) })
	if !errors.Is(err, ErrNicknameTaken) {
		t.Errorf("Expected ErrNicknameTaken, got %v", err)
	}

	insert(t, r, newTestHandle(t, "bob"))

	err = r.Update(func(tx *Tx) error { return tx.Insert(newTestHandle(t, "carol")) })
	if !errors.Is(err, ErrRoomFull) {
		t.Errorf("Expected ErrRoomFull, got %v", err)
	}

	if r.Len() != 2 {
		t.Errorf("Expected 2 clients, got %d", r.Len())
	}
	if !r.Contains("alice") || !r.Contains("bob") || r.Contains("carol") {
		t.Errorf("Unexpected registry contents: %v", r.Snapshot())
	}
}

// TestRegistryRemoveHandleChecksGeneration verifies that a stale handle
// cannot evict a newer registration of the same nickname.
func TestRegistryRemoveHandleChecksGeneration(t *testing.T) {
	r := newTestRegistry(4)
	first := newTestHandle(t, "alice")
	insert(t, r, first)

	_ = r.Update(func(tx *Tx) error {
		if !tx.RemoveHandle(first) {
			t.Error("Expected first handle to be removed")
		}
		return nil
	})

	second := newTestHandle(t, "alice")
	insert(t, r, second)
	if first.Generation() == second.Generation() {
		t.Fatal("Expected distinct generations")
	}

	_ = r.Update(func(tx *Tx) error {
		if tx.RemoveHandle(first) {
			t.Error("Stale handle removed the newer registration")
		}
		return nil
	})
	if !r.Contains("alice") {
		t.Error("Expected newer registration to remain")
	}
}

// TestRegistryRemoveClosesQueue verifies that a removed handle stops
// accepting lines but keeps those already queued for its writer.
func TestRegistryRemoveClosesQueue(t *testing.T) {
	r := newTestRegistry(4)
	h := newTestHandle(t, "alice")
	insert(t, r, h)

	_ = r.Update(func(tx *Tx) error {
		tx.Send(h, "goodbye")
		if _, ok := tx.Remove("alice"); !ok {
			t.Error("Expected alice to be removed")
		}
		if tx.Send(h, "too late") {
			t.Error("Send succeeded on a removed handle")
		}
		if _, ok := tx.Remove("alice"); ok {
			t.Error("Second removal reported success")
		}
		return nil
	})

	if got := queued(h); len(got) != 1 || got[0] != "goodbye" {
		t.Errorf("Expected only the goodbye line, got %q", got)
	}
}

// TestRegistryBroadcastSkipsExcluded verifies broadcast exclusion.
func TestRegistryBroadcastSkipsExcluded(t *testing.T) {
	r := newTestRegistry(4)
	handles := map[string]*Handle{}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		handles[name] = newTestHandle(t, name)
		insert(t, r, handles[name])
	}

	var delivered int
	_ = r.Update(func(tx *Tx) error {
		delivered = tx.Broadcast("alice> hi", "alice", "bob")
		return nil
	})

	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}
	for _, name := range []string{"carol", "dave"} {
		if got := queued(handles[name]); len(got) != 1 || got[0] != "alice> hi" {
			t.Errorf("%s: expected broadcast, got %q", name, got)
		}
	}
	for _, name := range []string{"alice", "bob"} {
		if got := queued(handles[name]); len(got) != 0 {
			t.Errorf("%s: expected nothing, got %q", name, got)
		}
	}
}

// TestRegistryEvictsSlowClient verifies that a client whose queue is full
// is removed once the critical section ends, that delivery to the others
// carries on, and that they are told it left.
func TestRegistryEvictsSlowClient(t *testing.T) {
	r := newTestRegistry(4)
	handles := map[string]*Handle{}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		handles[name] = newTestHandle(t, name)
		insert(t, r, handles[name])
	}

	// Fill carol's queue so her delivery fails.
	for i := 0; i < cap(handles["carol"].send); i++ {
		handles["carol"].send <- []byte("filler\n")
	}

	var delivered int
	_ = r.Update(func(tx *Tx) error {
		delivered = tx.Broadcast("alice> hi", "alice")
		tx.Send(handles["carol"], "again")
		if !tx.Contains("carol") {
			t.Error("Expected carol to stay registered until the critical section ends")
		}
		return nil
	})

	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}
	if r.Contains("carol") || r.Len() != 3 {
		t.Errorf("Expected carol evicted, got %v", r.Snapshot())
	}

	leave := protocol.Left("carol", 3)
	for name, want := range map[string][]string{
		"alice": {leave},
		"bob":   {"alice> hi", leave},
		"dave":  {"alice> hi", leave},
	} {
		if got := queued(handles[name]); strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}

	// carol's queue is closed with only what was already waiting.
	if got := queued(handles["carol"]); len(got) != cap(handles["carol"].send) {
		t.Errorf("carol: expected %d queued lines, got %d", cap(handles["carol"].send), len(got))
	}
	_ = r.Update(func(tx *Tx) error {
		if tx.Send(handles["carol"], "late") {
			t.Error("Send succeeded after eviction")
		}
		return nil
	})
}

// TestRegistryOwnsChecksGeneration verifies the ownership test sessions run
// before every command.
func TestRegistryOwnsChecksGeneration(t *testing.T) {
	r := newTestRegistry(4)
	first := newTestHandle(t, "alice")
	insert(t, r, first)

	_ = r.Update(func(tx *Tx) error {
		if !tx.Owns(first) {
			t.Error("Expected registered handle to be owned")
		}
		tx.Remove("alice")
		if tx.Owns(first) {
			t.Error("Removed handle still owned")
		}
		return nil
	})

	second := newTestHandle(t, "alice")
	insert(t, r, second)
	_ = r.Update(func(tx *Tx) error {
		if tx.Owns(first) || !tx.Owns(second) || tx.Owns(nil) {
			t.Error("Ownership must follow the current generation")
		}
		return nil
	})
}

// TestRegistrySnapshotSorted verifies LIST ordering.
func TestRegistrySnapshotSorted(t *testing.T) {
	r := newTestRegistry(4)
	for _, name := range []string{"dave", "alice", "carol"} {
		insert(t, r, newTestHandle(t, name))
	}

	entries := r.Snapshot()
	var names []string
	for _, e := range entries {
		names = append(names, e.Nickname)
	}
	if strings.Join(names, ",") != "alice,carol,dave" {
		t.Errorf("Expected sorted nicknames, got %v", names)
	}
	if entries[0].IP != "pipe" {
		t.Errorf("Expected pipe address, got %q", entries[0].IP)
	}
}

// TestRegistryConcurrentInsertNeverExceedsCapacity races many inserts
// against a small room.
func TestRegistryConcurrentInsertNeverExceedsCapacity(t *testing.T) {
	r := newTestRegistry(4)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 32; i++ {
		h := newTestHandle(t, fmt.Sprintf("user%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Update(func(tx *Tx) error { return tx.Insert(h) }); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 4 || r.Len() != 4 {
		t.Errorf("Expected exactly 4 registrations, got accepted=%d len=%d", accepted, r.Len())
	}
}

// TestRegistryDrain verifies shutdown removal.
func TestRegistryDrain(t *testing.T) {
	r := newTestRegistry(4)
	a := newTestHandle(t, "alice")
	b := newTestHandle(t, "bob")
	insert(t, r, a)
	insert(t, r, b)

	handles := r.drain()
	if len(handles) != 2 || r.Len() != 0 {
		t.Fatalf("Expected 2 drained handles and empty registry, got %d and %d", len(handles), r.Len())
	}
	_ = r.Update(func(tx *Tx) error {
		if tx.Send(a, "x") {
			t.Error("Send succeeded after drain")
		}
		return nil
	})
}

// TestHandleWriterFlushesThenCloses verifies that a removed handle's writer
// delivers queued lines before closing the transport.
func TestHandleWriterFlushesThenCloses(t *testing.T) {
	local, remote := net.Pipe()
	defer func() { _ = remote.Close() }()

	r := newTestRegistry(4)
	h := newHandle("alice", local, 16, defaultWriteTimeout, logging.Discard())
	insert(t, r, h)
	h.start()

	_ = r.Update(func(tx *Tx) error {
		tx.Send(h, protocol.Banned("bob"))
		tx.RemoveHandle(h)
		return nil
	})

	reader := protocol.NewFrameReader(remote, 0)
	line, err := reader.ReadLine()
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	if string(line) != "you are banned by bob\n" {
		t.Errorf("Expected ban notice, got %q", line)
	}
	if _, err := reader.ReadLine(); err == nil {
		t.Error("Expected connection to be closed after flush")
	}
	<-h.Done()
}
