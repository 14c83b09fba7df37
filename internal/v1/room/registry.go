package room

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// Registry creates, deletes and enumerates rooms, and owns each room's
// participant map through the per-room helpers.
type Registry struct {
	mu    sync.RWMutex
	rooms map[protocol.RoomID]*Room

	store *history.Store
	hks   *hooks.Hooks
	ctxFn func() *hooks.Context
}

// NewRegistry creates an empty registry sharing the process-wide history
// store and hook set.
func NewRegistry(store *history.Store, hks *hooks.Hooks) *Registry {
	return &Registry{
		rooms: make(map[protocol.RoomID]*Room),
		store: store,
		hks:   hks,
	}
}

// SetContextFunc installs the snapshot supplier handed to hooks. The hub
// sets this once both registries exist.
func (g *Registry) SetContextFunc(fn func() *hooks.Context) {
	g.ctxFn = fn
}

// Register creates a room from config. Fails with ErrRoomExists on
// duplicate IDs and with the config's own error on invalid configs.
func (g *Registry) Register(id protocol.RoomID, cfg Config) (*Room, error) {
	if cfg.Name == "" {
		cfg.Name = string(id)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if _, exists := g.rooms[id]; exists {
		g.mu.Unlock()
		return nil, ErrRoomExists
	}
	r := newRoom(id, cfg, g.store, g.hks, g.snapshotCtx)
	g.rooms[id] = r
	g.mu.Unlock()

	metrics.ActiveRooms.Inc()
	logging.Info(context.Background(), "Registered room",
		zap.String("roomId", string(id)), zap.String("name", cfg.Name))

	if g.hks != nil && g.hks.Rooms.OnCreated != nil {
		hook := g.hks.Rooms.OnCreated
		info := r.Info()
		hooks.Go("rooms.onCreated", func() { hook(g.snapshotCtx(), info) })
	}
	return r, nil
}

// RegisterStatic registers rooms loaded from the static config file. Any
// failure is fatal configuration.
func (g *Registry) RegisterStatic(rooms []StaticRoom) error {
	for _, sr := range rooms {
		if _, err := g.Register(sr.ID, sr.Config); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up a room by ID.
func (g *Registry) Get(id protocol.RoomID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// All returns every room, ordered by ID for stable listings.
func (g *Registry) All() []*Room {
	g.mu.RLock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Views returns the hook-facing read-only view of every room.
func (g *Registry) Views() map[protocol.RoomID]hooks.RoomView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[protocol.RoomID]hooks.RoomView, len(g.rooms))
	for id, r := range g.rooms {
		out[id] = r
	}
	return out
}

// AddParticipant inserts a client into a room's participant map. Returns
// false when the room is absent or at capacity.
func (g *Registry) AddParticipant(roomID protocol.RoomID, p Participant) bool {
	r, ok := g.Get(roomID)
	if !ok {
		return false
	}
	return r.addParticipant(p)
}

// RemoveParticipant removes a connection from a room's participant map.
func (g *Registry) RemoveParticipant(roomID protocol.RoomID, id protocol.ConnectionID) {
	if r, ok := g.Get(roomID); ok {
		r.removeParticipant(id)
	}
}

// RemoveFromAllRooms removes a connection from every room. Used on
// disconnect.
func (g *Registry) RemoveFromAllRooms(id protocol.ConnectionID) {
	for _, r := range g.All() {
		r.removeParticipant(id)
	}
}

// Unregister deletes a room: evicts every participant, clears its history,
// notifies former participants, and fires rooms.onDeleted. Returns false if
// the room did not exist.
func (g *Registry) Unregister(id protocol.RoomID) bool {
	g.mu.Lock()
	r, ok := g.rooms[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, id)
	g.mu.Unlock()

	evicted := r.Participants()
	r.mu.Lock()
	r.participants = make(map[protocol.ConnectionID]Participant)
	r.mu.Unlock()

	for _, p := range evicted {
		p.DropRoom(id)
		p.Emit(protocol.FrameRoomDeleted, protocol.RoomDeletedPayload{RoomID: id})
	}

	g.store.ClearRoom(id)

	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(id))
	logging.Info(context.Background(), "Unregistered room", zap.String("roomId", string(id)))

	if g.hks != nil && g.hks.Rooms.OnDeleted != nil {
		hook := g.hks.Rooms.OnDeleted
		hooks.Go("rooms.onDeleted", func() { hook(g.snapshotCtx(), id) })
	}
	return true
}

func (g *Registry) snapshotCtx() *hooks.Context {
	if g.ctxFn != nil {
		return g.ctxFn()
	}
	return &hooks.Context{Rooms: g.Views()}
}
