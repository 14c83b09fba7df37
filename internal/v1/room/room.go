// Package room implements the routing core: the Room with its trigger
// pipeline and server-side handlers, and the Registry owning every room's
// participant map.
package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/event"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// Participant is what the room needs from a connected client during fan-out
// and eviction. Implemented by client.Client.
type Participant interface {
	ConnectionID() protocol.ConnectionID
	UserID() protocol.UserID
	Subscribed(roomID protocol.RoomID, eventName string) bool
	Emit(frameType string, payload any)
	// DropRoom clears the participant's local state for a room that no
	// longer exists, without calling back into the registry.
	DropRoom(roomID protocol.RoomID)
}

// Handler is a server-local event callback registered through On. Handlers
// run fire-and-forget after the synchronous trigger path.
type Handler func(msg protocol.EventMessage)

// HandlerID is the opaque removal token returned by On.
type HandlerID uint64

// Room holds one room's configuration, participants and server handlers.
type Room struct {
	id  protocol.RoomID
	cfg Config

	mu           sync.RWMutex
	participants map[protocol.ConnectionID]Participant
	handlers     map[string]map[HandlerID]Handler
	nextHandler  HandlerID

	// triggerMu serializes the trigger pipeline so fan-outs per room are
	// totally ordered (commit order).
	triggerMu sync.Mutex

	store *history.Store
	hks   *hooks.Hooks
	ctxFn func() *hooks.Context
}

func newRoom(id protocol.RoomID, cfg Config, store *history.Store, hks *hooks.Hooks, ctxFn func() *hooks.Context) *Room {
	return &Room{
		id:           id,
		cfg:          cfg,
		participants: make(map[protocol.ConnectionID]Participant),
		handlers:     make(map[string]map[HandlerID]Handler),
		store:        store,
		hks:          hks,
		ctxFn:        ctxFn,
	}
}

// ID returns the room ID.
func (r *Room) ID() protocol.RoomID { return r.id }

// Name returns the room's display name.
func (r *Room) Name() string { return r.cfg.Name }

// Config returns the room configuration.
func (r *Room) Config() Config { return r.cfg }

// Size returns the current participant count.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// IsFull reports whether the room is at capacity.
func (r *Room) IsFull() bool {
	if r.cfg.MaxSize <= 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) >= r.cfg.MaxSize
}

// Participants returns a snapshot of the current participants.
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Info returns the public summary of the room.
func (r *Room) Info() protocol.RoomInfo {
	return protocol.RoomInfo{
		ID:          r.id,
		Name:        r.cfg.Name,
		Description: r.cfg.Description,
		Size:        r.Size(),
		MaxSize:     r.cfg.MaxSize,
		CreatedByID: r.cfg.CreatedByID,
	}
}

// Definition resolves an event name against the room's allow-list. When the
// list allows the name without carrying a matching entry (empty list or
// wildcard), a bare definition is synthesized.
func (r *Room) Definition(eventName string) (event.Definition, error) {
	if !event.Allowed(eventName, r.cfg.Events) {
		return event.Definition{}, &NotAllowedError{Event: eventName, RoomID: r.id}
	}
	if def, ok := event.Lookup(eventName, r.cfg.Events); ok {
		return def, nil
	}
	return event.Define(eventName), nil
}

// Trigger resolves the event definition and runs the full pipeline. from
// defaults to the system sender when empty. The returned error is the
// expected-failure channel: allow-list misses, validation failures, and
// beforeEach denials.
func (r *Room) Trigger(eventName string, data any, from string, meta map[string]any) error {
	def, err := r.Definition(eventName)
	if err != nil {
		metrics.EventsTriggered.WithLabelValues(eventName, "not_allowed").Inc()
		return err
	}
	return r.TriggerDef(def, data, from, meta)
}

// TriggerDef runs the trigger pipeline for a resolved definition:
// validate, beforeEach, fan-out, history push, post-hooks, afterEach.
// The whole synchronous path completes without awaiting external I/O.
func (r *Room) TriggerDef(def event.Definition, data any, from string, meta map[string]any) error {
	r.triggerMu.Lock()
	defer r.triggerMu.Unlock()

	started := time.Now()
	name := def.Name()

	coerced, err := event.ValidateData(def, data)
	if err != nil {
		metrics.EventsTriggered.WithLabelValues(name, "invalid").Inc()
		return err
	}

	if from == "" {
		from = protocol.SystemSender
	}
	msg := protocol.EventMessage{
		Event:     name,
		RoomID:    r.id,
		Data:      coerced,
		From:      from,
		Timestamp: time.Now().UnixMilli(),
		Meta:      meta,
	}

	hctx := r.snapshotCtx()
	if r.hks != nil && r.hks.Events.BeforeEach != nil {
		if err := r.hks.Events.BeforeEach(hctx, r.id, &msg, from); err != nil {
			metrics.EventsTriggered.WithLabelValues(name, "denied").Inc()
			return err
		}
	}

	// Fan-out over a snapshot: joiners after this point do not receive the
	// in-flight message.
	recipients := 0
	for _, p := range r.Participants() {
		if p.Subscribed(r.id, name) {
			p.Emit(protocol.FrameEvent, msg)
			recipients++
		}
	}

	if policy, ok := def.History(); ok {
		r.store.Push(r.id, name, msg, policy.Limit)
	}

	r.dispatchHandlers(name, msg)

	if r.hks != nil && r.hks.Events.OnTriggered != nil {
		hook := r.hks.Events.OnTriggered
		hooks.Go("events.onTriggered", func() { hook(r.id, msg) })
	}

	if r.hks != nil && r.hks.Events.AfterEach != nil {
		hook := r.hks.Events.AfterEach
		hooks.Sync("events.afterEach", func() { hook(hctx, r.id, msg, recipients) })
	}

	metrics.EventsTriggered.WithLabelValues(name, "ok").Inc()
	metrics.FanoutDuration.Observe(time.Since(started).Seconds())
	return nil
}

// On registers a server-local handler for an event name and returns a thunk
// that removes it.
func (r *Room) On(eventName string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[eventName]
	if !ok {
		set = make(map[HandlerID]Handler)
		r.handlers[eventName] = set
	}
	r.nextHandler++
	id := r.nextHandler
	set[id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.handlers[eventName]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.handlers, eventName)
			}
		}
	}
}

func (r *Room) dispatchHandlers(eventName string, msg protocol.EventMessage) {
	r.mu.RLock()
	snapshot := make([]Handler, 0, len(r.handlers[eventName]))
	for _, h := range r.handlers[eventName] {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		handler := h
		hooks.Go("room.handler", func() { handler(msg) })
	}
}

// History reads the window [start, end) newest-first, transparently falling
// back to the external archive through the onLoad hook for entries evicted
// from memory. onLoad failures degrade to the in-memory portion.
func (r *Room) History(ctx context.Context, eventName string, start, end int) []protocol.EventMessage {
	inMem := r.store.Get(r.id, eventName, start, end)
	if end <= start {
		return inMem
	}
	if len(inMem) == end-start || r.hks == nil || r.hks.Events.OnLoad == nil {
		return inMem
	}

	k := r.store.Count(r.id, eventName)
	extStart := max(start, k) - k
	extEnd := end - k
	if extEnd <= extStart {
		return inMem
	}

	external, err := r.hks.Events.OnLoad(ctx, r.id, eventName, extStart, extEnd)
	if err != nil {
		logging.Error(ctx, "History load hook failed, returning in-memory portion only",
			zap.Error(err), zap.String("roomId", string(r.id)), zap.String("event", eventName))
		return inMem
	}
	return append(inMem, external...)
}

func (r *Room) snapshotCtx() *hooks.Context {
	if r.ctxFn == nil {
		return &hooks.Context{}
	}
	return r.ctxFn()
}

// addParticipant inserts under the registry's direction. Returns false when
// the room is at capacity.
func (r *Room) addParticipant(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.MaxSize > 0 && len(r.participants) >= r.cfg.MaxSize {
		return false
	}
	r.participants[p.ConnectionID()] = p
	metrics.RoomParticipants.WithLabelValues(string(r.id)).Set(float64(len(r.participants)))
	return true
}

func (r *Room) removeParticipant(id protocol.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return
	}
	delete(r.participants, id)
	metrics.RoomParticipants.WithLabelValues(string(r.id)).Set(float64(len(r.participants)))
}
