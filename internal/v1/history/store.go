// Package history implements the bounded in-memory event history: one FIFO
// buffer per (room, event name), oldest-first in storage, read newest-first.
package history

import (
	"context"
	"sort"
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// CleanupFunc receives batches evicted from a buffer, in push order. It is
// dispatched fire-and-forget after the mutation commits; failures are logged
// and never propagated.
type CleanupFunc func(roomID protocol.RoomID, eventName string, evicted []protocol.EventMessage)

// LoadFunc fetches older messages from external storage. Indices are
// newest-first positions within the external store.
type LoadFunc func(ctx context.Context, roomID protocol.RoomID, eventName string, start, end int) ([]protocol.EventMessage, error)

// Store is the per-process history map. All methods are safe for concurrent
// use; none of them block on I/O.
type Store struct {
	mu    sync.RWMutex
	rooms map[protocol.RoomID]map[string][]protocol.EventMessage

	onCleanup CleanupFunc
}

// NewStore creates an empty history store. onCleanup may be nil.
func NewStore(onCleanup CleanupFunc) *Store {
	return &Store{
		rooms:     make(map[protocol.RoomID]map[string][]protocol.EventMessage),
		onCleanup: onCleanup,
	}
}

// Push appends msg to the (roomID, eventName) buffer and evicts from the
// front while the buffer exceeds limit. Evicted messages are handed to the
// cleanup hook after the lock is released.
func (s *Store) Push(roomID protocol.RoomID, eventName string, msg protocol.EventMessage, limit int) {
	if limit < 1 {
		return
	}

	s.mu.Lock()
	events, ok := s.rooms[roomID]
	if !ok {
		events = make(map[string][]protocol.EventMessage)
		s.rooms[roomID] = events
	}

	buf := append(events[eventName], msg)
	var evicted []protocol.EventMessage
	if n := len(buf) - limit; n > 0 {
		evicted = make([]protocol.EventMessage, n)
		copy(evicted, buf[:n])
		buf = append(buf[:0:0], buf[n:]...)
	}
	events[eventName] = buf
	s.mu.Unlock()

	if len(evicted) > 0 {
		metrics.HistoryEvictions.Add(float64(len(evicted)))
		s.dispatchCleanup(roomID, eventName, evicted)
	}
}

// Get returns the window [start, end) of the buffer in newest-first order.
// Out-of-range or empty windows yield an empty, non-nil slice so the window
// always serializes as a JSON array. Never blocks.
func (s *Store) Get(roomID protocol.RoomID, eventName string, start, end int) []protocol.EventMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.rooms[roomID][eventName]
	n := len(buf)

	// Newest-first positions map onto the oldest-first buffer as
	// [n-end, n-start), then reversed.
	lo := n - end
	hi := n - start
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if start < 0 || end <= start || hi <= lo {
		return []protocol.EventMessage{}
	}

	out := make([]protocol.EventMessage, 0, hi-lo)
	for i := hi - 1; i >= lo; i-- {
		out = append(out, buf[i])
	}
	return out
}

// GetAll concatenates every event-type buffer in the room, sorted by
// timestamp descending, truncated to limit (0 = no limit). Used only for
// the history snapshot sent on join.
func (s *Store) GetAll(roomID protocol.RoomID, limit int) []protocol.EventMessage {
	s.mu.RLock()
	out := []protocol.EventMessage{}
	for _, buf := range s.rooms[roomID] {
		// Reverse each buffer so the stable sort keeps same-timestamp
		// entries newest-first.
		for i := len(buf) - 1; i >= 0; i-- {
			out = append(out, buf[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the in-memory length of a buffer.
func (s *Store) Count(roomID protocol.RoomID, eventName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID][eventName])
}

// ClearRoom emits a final cleanup per non-empty buffer and deletes the room.
func (s *Store) ClearRoom(roomID protocol.RoomID) {
	s.mu.Lock()
	events := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()

	for name, buf := range events {
		if len(buf) > 0 {
			s.dispatchCleanup(roomID, name, buf)
		}
	}
}

func (s *Store) dispatchCleanup(roomID protocol.RoomID, eventName string, evicted []protocol.EventMessage) {
	if s.onCleanup == nil {
		return
	}
	hook := s.onCleanup
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.HookError("events.onCleanup", r)
			}
		}()
		hook(roomID, eventName, evicted)
	}()
}
