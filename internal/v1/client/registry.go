package client

import (
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// Registry maps connection IDs to clients and keeps a reverse index from
// user ID to that user's connection set. Both maps mutate together on
// connect and disconnect.
type Registry struct {
	mu     sync.RWMutex
	byConn map[protocol.ConnectionID]*Client
	byUser map[protocol.UserID]map[protocol.ConnectionID]struct{}
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[protocol.ConnectionID]*Client),
		byUser: make(map[protocol.UserID]map[protocol.ConnectionID]struct{}),
	}
}

// Add indexes a newly connected client.
func (g *Registry) Add(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byConn[c.connID] = c
	set, ok := g.byUser[c.userID]
	if !ok {
		set = make(map[protocol.ConnectionID]struct{})
		g.byUser[c.userID] = set
	}
	set[c.connID] = struct{}{}
}

// Remove drops a connection from both indices.
func (g *Registry) Remove(connID protocol.ConnectionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.byConn[connID]
	if !ok {
		return
	}
	delete(g.byConn, connID)
	if set, ok := g.byUser[c.userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(g.byUser, c.userID)
		}
	}
}

// Get looks up a client by connection ID.
func (g *Registry) Get(connID protocol.ConnectionID) (*Client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.byConn[connID]
	return c, ok
}

// All returns a snapshot of every connected client.
func (g *Registry) All() []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Client, 0, len(g.byConn))
	for _, c := range g.byConn {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byConn)
}

// ByUserID resolves every connection of a user through the forward map,
// skipping stale index entries.
func (g *Registry) ByUserID(userID protocol.UserID) []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Client, 0, len(g.byUser[userID]))
	for connID := range g.byUser[userID] {
		if c, ok := g.byConn[connID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// UserRooms returns the union of joined rooms across every connection of a
// user.
func (g *Registry) UserRooms(userID protocol.UserID) []protocol.RoomID {
	seen := make(map[protocol.RoomID]struct{})
	var out []protocol.RoomID
	for _, c := range g.ByUserID(userID) {
		for _, roomID := range c.JoinedRooms() {
			if _, dup := seen[roomID]; !dup {
				seen[roomID] = struct{}{}
				out = append(out, roomID)
			}
		}
	}
	return out
}

// IsInRoom reports whether any connection of the user has joined the room.
func (g *Registry) IsInRoom(userID protocol.UserID, roomID protocol.RoomID) bool {
	for _, c := range g.ByUserID(userID) {
		if c.InRoom(roomID) {
			return true
		}
	}
	return false
}

// LeaveAll forces every connection of the user out of every joined room.
// The callback, when set, observes each (room) before the mutation.
func (g *Registry) LeaveAll(userID protocol.UserID, callback func(roomID protocol.RoomID)) {
	for _, c := range g.ByUserID(userID) {
		for _, roomID := range c.JoinedRooms() {
			if callback != nil {
				callback(roomID)
			}
			c.Leave(roomID)
		}
	}
}

// Views returns the hook-facing read-only view of every client.
func (g *Registry) Views() map[protocol.ConnectionID]hooks.ClientView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[protocol.ConnectionID]hooks.ClientView, len(g.byConn))
	for id, c := range g.byConn {
		out[id] = c
	}
	return out
}
