// Package client implements the connected-client state machine (joined
// rooms, per-room subscription sets) and the registry mapping connections
// and users to clients.
package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/auth"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
	"github.com/dialoguehq/dialogue/internal/v1/room"
)

// Conn is what the client needs from its transport connection. Send must be
// non-blocking: a full outbound queue drops the frame rather than stalling
// fan-out.
type Conn interface {
	Send(frameType string, payload any)
	Close()
}

// Client is one transport connection with identity and room state. It holds
// room IDs only, never room references; rooms hold the strong reference back
// through their participant maps.
type Client struct {
	connID protocol.ConnectionID
	userID protocol.UserID
	meta   map[string]any
	auth   *auth.Data

	conn     Conn
	registry *room.Registry

	mu     sync.RWMutex
	joined map[protocol.RoomID]struct{}
	subs   map[protocol.RoomID]map[string]struct{}
}

// New creates a connected client bound to its transport connection and the
// room registry.
func New(connID protocol.ConnectionID, userID protocol.UserID, authData *auth.Data, conn Conn, registry *room.Registry) *Client {
	return &Client{
		connID:   connID,
		userID:   userID,
		auth:     authData,
		meta:     make(map[string]any),
		conn:     conn,
		registry: registry,
		joined:   make(map[protocol.RoomID]struct{}),
		subs:     make(map[protocol.RoomID]map[string]struct{}),
	}
}

// ConnectionID returns the process-unique connection ID.
func (c *Client) ConnectionID() protocol.ConnectionID { return c.connID }

// UserID returns the authenticated user ID.
func (c *Client) UserID() protocol.UserID { return c.userID }

// Auth returns the authentication data attached at handshake, if any.
func (c *Client) Auth() *auth.Data { return c.auth }

// SetMeta stores an opaque key-value pair on the client.
func (c *Client) SetMeta(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[key] = value
}

// Meta reads an opaque key-value pair.
func (c *Client) Meta(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.meta[key]
	return v, ok
}

// JoinedRooms returns a snapshot of the rooms this connection has joined.
func (c *Client) JoinedRooms() []protocol.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.RoomID, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

// InRoom reports whether this connection has joined the room.
func (c *Client) InRoom(roomID protocol.RoomID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.joined[roomID]
	return ok
}

// Subscribed implements the fan-out predicate: the wildcard or the event
// name is present in the per-room subscription set.
func (c *Client) Subscribed(roomID protocol.RoomID, eventName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.subs[roomID]
	if !ok {
		return false
	}
	if _, ok := set[protocol.Wildcard]; ok {
		return true
	}
	_, ok = set[eventName]
	return ok
}

// Subscriptions returns a snapshot of the subscription set for a room.
func (c *Client) Subscriptions(roomID protocol.RoomID) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs[roomID]))
	for name := range c.subs[roomID] {
		out = append(out, name)
	}
	return out
}

// Emit sends a frame over this connection's transport.
func (c *Client) Emit(frameType string, payload any) {
	c.conn.Send(frameType, payload)
}

// Join adds this connection to a room. Re-joining an already-joined room
// re-emits the acknowledgement so reconnecting UIs settle. Capacity misses
// surface as a ROOM_FULL error to this socket only.
func (c *Client) Join(roomID protocol.RoomID) {
	r, ok := c.registry.Get(roomID)
	if !ok {
		logging.Warn(context.Background(), "Join for unknown room",
			zap.String("roomId", string(roomID)), zap.String("connectionId", string(c.connID)))
		return
	}

	if c.InRoom(roomID) {
		c.Emit(protocol.FrameJoined, protocol.JoinedPayload{RoomID: roomID, RoomName: r.Name()})
		return
	}

	if !c.registry.AddParticipant(roomID, c) {
		c.Emit(protocol.FrameError, protocol.ErrorPayload{
			Code:    protocol.CodeRoomFull,
			Message: "Room '" + string(roomID) + "' is full",
		})
		return
	}

	c.mu.Lock()
	c.joined[roomID] = struct{}{}
	c.subs[roomID] = make(map[string]struct{})
	c.mu.Unlock()

	for _, name := range r.Config().DefaultSubscriptions {
		c.Subscribe(roomID, name)
	}

	c.Emit(protocol.FrameJoined, protocol.JoinedPayload{RoomID: roomID, RoomName: r.Name()})
}

// Leave removes this connection from a room and acknowledges.
func (c *Client) Leave(roomID protocol.RoomID) {
	c.registry.RemoveParticipant(roomID, c.connID)
	c.DropRoom(roomID)
	c.Emit(protocol.FrameLeft, protocol.LeftPayload{RoomID: roomID})
}

// Subscribe adds an event name (or the wildcard) to the per-room
// subscription set. A silent no-op, with a warning, when the room has not
// been joined.
func (c *Client) Subscribe(roomID protocol.RoomID, eventName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.joined[roomID]; !ok {
		logging.Warn(context.Background(), "Subscribe without join",
			zap.String("roomId", string(roomID)), zap.String("event", eventName),
			zap.String("connectionId", string(c.connID)))
		return
	}
	set, ok := c.subs[roomID]
	if !ok {
		set = make(map[string]struct{})
		c.subs[roomID] = set
	}
	set[eventName] = struct{}{}
}

// SubscribeAll subscribes this connection to every event in the room.
func (c *Client) SubscribeAll(roomID protocol.RoomID) {
	c.Subscribe(roomID, protocol.Wildcard)
}

// Unsubscribe removes an event name from the per-room subscription set.
func (c *Client) Unsubscribe(roomID protocol.RoomID, eventName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.subs[roomID]; ok {
		delete(set, eventName)
	}
}

// DropRoom clears local state for a room without touching the registry.
// Called on leave and when the registry deletes a room.
func (c *Client) DropRoom(roomID protocol.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, roomID)
	delete(c.subs, roomID)
}

// Disconnect removes this connection from every room, clears local state,
// and closes the transport.
func (c *Client) Disconnect() {
	c.registry.RemoveFromAllRooms(c.connID)

	c.mu.Lock()
	c.joined = make(map[protocol.RoomID]struct{})
	c.subs = make(map[protocol.RoomID]map[string]struct{})
	c.mu.Unlock()

	c.conn.Close()
}
