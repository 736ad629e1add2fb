// Package server keeps the client registry: the single shared map from
// nickname to Handle, and the transactions that read and mutate it.
package server

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// Registry maps nicknames to live handles. Every read and mutation goes
// through one mutex; a lookup followed by an action belongs in a single
// Update call so nothing can change in between.
type Registry struct {
	mu       sync.Mutex
	clients  map[string]*Handle
	capacity int
	logger   *slog.Logger
}

// NewRegistry creates an empty registry holding at most capacity clients.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:  make(map[string]*Handle, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Capacity returns the configured maximum number of clients.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Len returns the current number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Contains reports whether nickname is registered.
func (r *Registry) Contains(nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[nickname]
	return ok
}

// Snapshot returns the registered clients sorted by nickname.
func (r *Registry) Snapshot() []protocol.ListEntry {
	var entries []protocol.ListEntry
	_ = r.Update(func(tx *Tx) error {
		entries = tx.Entries()
		return nil
	})
	return entries
}

// Update runs fn while holding the registry lock. The Tx must not be used
// after fn returns, and fn must not block on I/O: deliveries only enqueue.
// Clients whose queue overflowed during fn are evicted before the lock is
// released.
func (r *Registry) Update(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Tx{r: r}
	defer func() { tx.r = nil }()
	err := fn(tx)
	tx.evictSlow()
	return err
}

// drain removes every handle and closes its queue. Used on shutdown.
func (r *Registry) drain() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*Handle, 0, len(r.clients))
	for nickname, h := range r.clients {
		delete(r.clients, nickname)
		h.close()
		handles = append(handles, h)
	}
	return handles
}

// Tx is the view of the registry inside one critical section.
type Tx struct {
	r    *Registry
	slow []*Handle
}

// Len returns the number of registered clients.
func (tx *Tx) Len() int {
	return len(tx.r.clients)
}

// Capacity returns the registry capacity.
func (tx *Tx) Capacity() int {
	return tx.r.capacity
}

// Full reports whether no further client fits.
func (tx *Tx) Full() bool {
	return len(tx.r.clients) >= tx.r.capacity
}

// Get looks up a nickname.
func (tx *Tx) Get(nickname string) (*Handle, bool) {
	h, ok := tx.r.clients[nickname]
	return h, ok
}

// Contains reports whether nickname is registered.
func (tx *Tx) Contains(nickname string) bool {
	_, ok := tx.r.clients[nickname]
	return ok
}

// Insert registers h. It fails with ErrNicknameTaken or ErrRoomFull.
func (tx *Tx) Insert(h *Handle) error {
	if _, exists := tx.r.clients[h.nickname]; exists {
		return ErrNicknameTaken
	}
	if tx.Full() {
		return ErrRoomFull
	}
	tx.r.clients[h.nickname] = h
	return nil
}

// Remove deletes nickname and closes its queue.
func (tx *Tx) Remove(nickname string) (*Handle, bool) {
	h, ok := tx.r.clients[nickname]
	if !ok {
		return nil, false
	}
	delete(tx.r.clients, nickname)
	h.close()
	return h, true
}

// Owns reports whether h is still the registered handle for its nickname.
func (tx *Tx) Owns(h *Handle) bool {
	if h == nil {
		return false
	}
	current, ok := tx.r.clients[h.nickname]
	return ok && current.generation == h.generation
}

// RemoveHandle deletes h only if it is still the registered handle for its
// nickname, so a stale session never evicts a newer registration.
func (tx *Tx) RemoveHandle(h *Handle) bool {
	if !tx.Owns(h) {
		return false
	}
	delete(tx.r.clients, h.nickname)
	h.close()
	return true
}

// Send enqueues one line for h. Failures are logged and reported, never
// fatal to the caller.
func (tx *Tx) Send(h *Handle, text string) bool {
	return tx.deliver(h, protocol.EncodeLine(text))
}

// deliver enqueues line for h. A client whose queue is full cannot keep up
// and is marked for eviction.
func (tx *Tx) deliver(h *Handle, line []byte) bool {
	if h.enqueue(line) {
		return true
	}
	if h.closed {
		tx.r.logger.Debug("Dropped message for removed client", "nickname", h.nickname)
		return false
	}
	for _, marked := range tx.slow {
		if marked == h {
			return false
		}
	}
	tx.r.logger.Warn("Send queue full; evicting client", "nickname", h.nickname, "remote", h.remote())
	tx.slow = append(tx.slow, h)
	return false
}

// evictSlow removes the clients that overflowed and tells everyone else
// they left. A departure notice can overflow another queue, so it repeats
// until nobody is left to evict.
func (tx *Tx) evictSlow() {
	for len(tx.slow) > 0 {
		slow := tx.slow
		tx.slow = nil
		for _, h := range slow {
			if !tx.RemoveHandle(h) {
				continue
			}
			occupancy := tx.Len()
			tx.r.logger.Info(fmt.Sprintf("%s was evicted for falling behind. There are %d users now", h.nickname, occupancy))
			tx.Broadcast(protocol.Left(h.nickname, occupancy))
		}
	}
}

// Broadcast enqueues text for every client not named in except and returns
// how many deliveries succeeded.
func (tx *Tx) Broadcast(text string, except ...string) int {
	line := protocol.EncodeLine(text)
	delivered := 0
	for nickname, h := range tx.r.clients {
		if contains(except, nickname) {
			continue
		}
		if tx.deliver(h, line) {
			delivered++
		}
	}
	return delivered
}

// Entries lists the registered clients sorted by nickname.
func (tx *Tx) Entries() []protocol.ListEntry {
	entries := make([]protocol.ListEntry, 0, len(tx.r.clients))
	for _, h := range tx.r.clients {
		entries = append(entries, protocol.ListEntry{Nickname: h.nickname, IP: h.ip, Port: h.port})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Nickname < entries[j].Nickname })
	return entries
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
