package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialoguehq/dialogue/internal/v1/event"
	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

type recordedFrame struct {
	Type    string
	Payload any
}

// mockParticipant records every frame it receives.
type mockParticipant struct {
	id   protocol.ConnectionID
	user protocol.UserID
	all  bool
	subs map[string]bool

	mu      sync.Mutex
	frames  []recordedFrame
	dropped []protocol.RoomID
}

func newMockParticipant(id string, subs ...string) *mockParticipant {
	p := &mockParticipant{
		id:   protocol.ConnectionID(id),
		user: protocol.UserID("user-" + id),
		subs: make(map[string]bool),
	}
	for _, s := range subs {
		if s == protocol.Wildcard {
			p.all = true
		}
		p.subs[s] = true
	}
	return p
}

func (p *mockParticipant) ConnectionID() protocol.ConnectionID { return p.id }
func (p *mockParticipant) UserID() protocol.UserID             { return p.user }

func (p *mockParticipant) Subscribed(_ protocol.RoomID, eventName string) bool {
	return p.all || p.subs[eventName]
}

func (p *mockParticipant) Emit(frameType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, recordedFrame{Type: frameType, Payload: payload})
}

func (p *mockParticipant) DropRoom(roomID protocol.RoomID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, roomID)
}

func (p *mockParticipant) recorded() []recordedFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedFrame, len(p.frames))
	copy(out, p.frames)
	return out
}

func newTestRegistry(hks *hooks.Hooks) *Registry {
	return NewRegistry(history.NewStore(nil), hks)
}

func TestRegistry_Register(t *testing.T) {
	reg := newTestRegistry(nil)

	r, err := reg.Register("room-1", Config{MaxSize: 4})
	require.NoError(t, err)
	assert.Equal(t, protocol.RoomID("room-1"), r.ID())
	assert.Equal(t, "room-1", r.Name()) // name defaults to the ID

	_, err = reg.Register("room-1", Config{})
	assert.ErrorIs(t, err, ErrRoomExists)

	_, err = reg.Register("room-2", Config{MaxSize: -1})
	assert.Error(t, err)
}

func TestRoom_Definition(t *testing.T) {
	reg := newTestRegistry(nil)
	r, err := reg.Register("room-1", Config{
		Events: []event.Definition{event.Define("chat:message", event.WithHistory(10))},
	})
	require.NoError(t, err)

	def, err := r.Definition("chat:message")
	require.NoError(t, err)
	_, hasHistory := def.History()
	assert.True(t, hasHistory)

	_, err = r.Definition("unknown")
	require.Error(t, err)
	assert.True(t, IsNotAllowed(err))
	assert.Equal(t, "Event 'unknown' is not allowed in room 'room-1'", err.Error())
}

func TestRoom_Definition_WildcardSynthesizes(t *testing.T) {
	reg := newTestRegistry(nil)
	r, err := reg.Register("room-1", Config{
		Events: []event.Definition{event.Define("*")},
	})
	require.NoError(t, err)

	def, err := r.Definition("anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", def.Name())
	_, hasHistory := def.History()
	assert.False(t, hasHistory)
}

func TestRoom_Trigger_FanOutRespectsSubscriptions(t *testing.T) {
	reg := newTestRegistry(nil)
	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)

	subscribed := newMockParticipant("a", "chat:message")
	wildcard := newMockParticipant("b", protocol.Wildcard)
	unsubscribed := newMockParticipant("c")
	require.True(t, reg.AddParticipant("room-1", subscribed))
	require.True(t, reg.AddParticipant("room-1", wildcard))
	require.True(t, reg.AddParticipant("room-1", unsubscribed))

	require.NoError(t, r.Trigger("chat:message", map[string]any{"text": "hi"}, "alice", nil))

	for _, p := range []*mockParticipant{subscribed, wildcard} {
		frames := p.recorded()
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.FrameEvent, frames[0].Type)
		msg := frames[0].Payload.(protocol.EventMessage)
		assert.Equal(t, "chat:message", msg.Event)
		assert.Equal(t, protocol.RoomID("room-1"), msg.RoomID)
		assert.Equal(t, "alice", msg.From)
		assert.NotZero(t, msg.Timestamp)
	}
	assert.Empty(t, unsubscribed.recorded())
}

func TestRoom_Trigger_DefaultsFromToSystem(t *testing.T) {
	reg := newTestRegistry(nil)
	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)

	p := newMockParticipant("a", protocol.Wildcard)
	require.True(t, reg.AddParticipant("room-1", p))

	require.NoError(t, r.Trigger("tick", nil, "", nil))

	frames := p.recorded()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.SystemSender, frames[0].Payload.(protocol.EventMessage).From)
}

func TestRoom_Trigger_ValidationFailure(t *testing.T) {
	reg := newTestRegistry(nil)
	def := event.Define("profile:update", event.WithValidator(event.FuncValidator(
		func(v any) (any, error) { return nil, errors.New("age: required") })))
	r, err := reg.Register("room-1", Config{Events: []event.Definition{def}})
	require.NoError(t, err)

	p := newMockParticipant("a", protocol.Wildcard)
	require.True(t, reg.AddParticipant("room-1", p))

	err = r.Trigger("profile:update", map[string]any{}, "alice", nil)
	require.Error(t, err)
	assert.Equal(t, "Event 'profile:update' validation failed: age: required", err.Error())
	assert.Empty(t, p.recorded()) // nothing was fanned out
}

func TestRoom_Trigger_BeforeEachCanMutateAndDeny(t *testing.T) {
	hks := &hooks.Hooks{}
	hks.Events.BeforeEach = func(_ *hooks.Context, _ protocol.RoomID, msg *protocol.EventMessage, from string) error {
		if from == "banned" {
			return errors.New("sender is banned")
		}
		msg.Data = "redacted"
		return nil
	}

	reg := newTestRegistry(hks)
	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)

	p := newMockParticipant("a", protocol.Wildcard)
	require.True(t, reg.AddParticipant("room-1", p))

	require.NoError(t, r.Trigger("chat:message", "original", "alice", nil))
	frames := p.recorded()
	require.Len(t, frames, 1)
	assert.Equal(t, "redacted", frames[0].Payload.(protocol.EventMessage).Data)

	err = r.Trigger("chat:message", "x", "banned", nil)
	require.Error(t, err)
	assert.Equal(t, "sender is banned", err.Error())
	assert.Len(t, p.recorded(), 1) // denied trigger reached nobody
}

func TestRoom_Trigger_AfterEachSeesRecipientCount(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	hks := &hooks.Hooks{}
	hks.Events.AfterEach = func(_ *hooks.Context, _ protocol.RoomID, _ protocol.EventMessage, recipients int) {
		mu.Lock()
		counts = append(counts, recipients)
		mu.Unlock()
	}

	reg := newTestRegistry(hks)
	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)

	require.True(t, reg.AddParticipant("room-1", newMockParticipant("a", protocol.Wildcard)))
	require.True(t, reg.AddParticipant("room-1", newMockParticipant("b")))

	require.NoError(t, r.Trigger("tick", nil, "", nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, 1) // afterEach is synchronous
	assert.Equal(t, 1, counts[0])
}

func TestRoom_Trigger_PushesHistory(t *testing.T) {
	store := history.NewStore(nil)
	reg := NewRegistry(store, nil)
	def := event.Define("chat:message", event.WithHistory(2))
	r, err := reg.Register("room-1", Config{Events: []event.Definition{def}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Trigger("chat:message", i, "alice", nil))
	}

	assert.Equal(t, 2, store.Count("room-1", "chat:message"))
	got := store.Get("room-1", "chat:message", 0, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Data)
}

func TestRoom_On_HandlerAndRemoval(t *testing.T) {
	reg := newTestRegistry(nil)
	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)

	received := make(chan protocol.EventMessage, 2)
	off := r.On("chat:message", func(msg protocol.EventMessage) { received <- msg })

	require.NoError(t, r.Trigger("chat:message", "first", "alice", nil))
	select {
	case msg := <-received:
		assert.Equal(t, "first", msg.Data)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}

	off()
	require.NoError(t, r.Trigger("chat:message", "second", "alice", nil))
	select {
	case <-received:
		t.Fatal("removed handler was invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoom_History_ExternalLoadFallback(t *testing.T) {
	hks := &hooks.Hooks{}
	hks.Events.OnLoad = func(_ context.Context, _ protocol.RoomID, _ string, start, end int) ([]protocol.EventMessage, error) {
		// Archive positions continue past the in-memory buffer.
		out := make([]protocol.EventMessage, 0, end-start)
		for i := start; i < end; i++ {
			out = append(out, protocol.EventMessage{Event: "chat:message", Data: -i, Timestamp: int64(100 - i)})
		}
		return out, nil
	}

	store := history.NewStore(nil)
	reg := NewRegistry(store, hks)
	def := event.Define("chat:message", event.WithHistory(3))
	r, err := reg.Register("room-1", Config{Events: []event.Definition{def}})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Trigger("chat:message", i, "alice", nil))
	}

	// In-memory covers positions [0,3); positions [3,5) come from the hook.
	got := r.History(context.Background(), "chat:message", 0, 5)
	require.Len(t, got, 5)
	assert.Equal(t, 3, got[0].Data)
	assert.Equal(t, 1, got[2].Data)
	assert.Equal(t, 0, got[3].Data)
	assert.Equal(t, -1, got[4].Data)

	// A window entirely past memory goes straight to the hook.
	got = r.History(context.Background(), "chat:message", 4, 6)
	require.Len(t, got, 2)
	assert.Equal(t, -1, got[0].Data)
}

func TestRoom_History_LoadErrorDegradesToMemory(t *testing.T) {
	hks := &hooks.Hooks{}
	hks.Events.OnLoad = func(context.Context, protocol.RoomID, string, int, int) ([]protocol.EventMessage, error) {
		return nil, errors.New("redis down")
	}

	store := history.NewStore(nil)
	reg := NewRegistry(store, hks)
	def := event.Define("chat:message", event.WithHistory(3))
	r, err := reg.Register("room-1", Config{Events: []event.Definition{def}})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		require.NoError(t, r.Trigger("chat:message", i, "alice", nil))
	}

	got := r.History(context.Background(), "chat:message", 0, 10)
	assert.Len(t, got, 2)
}

func TestRoom_Capacity(t *testing.T) {
	reg := newTestRegistry(nil)
	r, err := reg.Register("room-1", Config{MaxSize: 2})
	require.NoError(t, err)

	require.True(t, reg.AddParticipant("room-1", newMockParticipant("a")))
	require.True(t, reg.AddParticipant("room-1", newMockParticipant("b")))
	assert.True(t, r.IsFull())
	assert.False(t, reg.AddParticipant("room-1", newMockParticipant("c")))

	reg.RemoveParticipant("room-1", "a")
	assert.False(t, r.IsFull())
	assert.True(t, reg.AddParticipant("room-1", newMockParticipant("c")))
}

func TestRoom_Trigger_SnapshotExcludesLateJoiners(t *testing.T) {
	reg := newTestRegistry(nil)
	late := newMockParticipant("late", protocol.Wildcard)

	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)
	require.NoError(t, r.Trigger("tick", nil, "", nil))

	require.True(t, reg.AddParticipant("room-1", late))
	assert.Empty(t, late.recorded())
}
