package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

func TestRegistry_All_SortedByID(t *testing.T) {
	reg := newTestRegistry(nil)
	for _, id := range []protocol.RoomID{"charlie", "alpha", "bravo"} {
		_, err := reg.Register(id, Config{})
		require.NoError(t, err)
	}

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, protocol.RoomID("alpha"), all[0].ID())
	assert.Equal(t, protocol.RoomID("bravo"), all[1].ID())
	assert.Equal(t, protocol.RoomID("charlie"), all[2].ID())
}

func TestRegistry_Unregister_EvictsAndNotifies(t *testing.T) {
	store := history.NewStore(nil)
	reg := NewRegistry(store, nil)
	r, err := reg.Register("room-1", Config{})
	require.NoError(t, err)

	p := newMockParticipant("a", protocol.Wildcard)
	require.True(t, reg.AddParticipant("room-1", p))

	require.True(t, reg.Unregister("room-1"))
	assert.False(t, reg.Unregister("room-1"))
	_, ok := reg.Get("room-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())

	assert.Equal(t, []protocol.RoomID{"room-1"}, p.dropped)
	frames := p.recorded()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.FrameRoomDeleted, frames[0].Type)
	assert.Equal(t, protocol.RoomDeletedPayload{RoomID: "room-1"}, frames[0].Payload)
}

func TestRegistry_Unregister_ClearsHistory(t *testing.T) {
	done := make(chan struct{}, 1)
	store := history.NewStore(func(protocol.RoomID, string, []protocol.EventMessage) {
		done <- struct{}{}
	})
	reg := NewRegistry(store, nil)

	_, err := reg.Register("room-1", Config{})
	require.NoError(t, err)
	store.Push("room-1", "chat:message", protocol.EventMessage{Event: "chat:message"}, 10)

	require.True(t, reg.Unregister("room-1"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("history cleanup not fired on room deletion")
	}
	assert.Equal(t, 0, store.Count("room-1", "chat:message"))
}

func TestRegistry_LifecycleHooks(t *testing.T) {
	var mu sync.Mutex
	var created []protocol.RoomID
	var deleted []protocol.RoomID
	signal := make(chan struct{}, 4)

	hks := &hooks.Hooks{}
	hks.Rooms.OnCreated = func(_ *hooks.Context, info protocol.RoomInfo) {
		mu.Lock()
		created = append(created, info.ID)
		mu.Unlock()
		signal <- struct{}{}
	}
	hks.Rooms.OnDeleted = func(_ *hooks.Context, roomID protocol.RoomID) {
		mu.Lock()
		deleted = append(deleted, roomID)
		mu.Unlock()
		signal <- struct{}{}
	}

	reg := newTestRegistry(hks)
	_, err := reg.Register("room-1", Config{})
	require.NoError(t, err)
	require.True(t, reg.Unregister("room-1"))

	for i := 0; i < 2; i++ {
		select {
		case <-signal:
		case <-time.After(time.Second):
			t.Fatal("lifecycle hook not fired")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocol.RoomID{"room-1"}, created)
	assert.Equal(t, []protocol.RoomID{"room-1"}, deleted)
}

func TestRegistry_RemoveFromAllRooms(t *testing.T) {
	reg := newTestRegistry(nil)
	r1, err := reg.Register("room-1", Config{})
	require.NoError(t, err)
	r2, err := reg.Register("room-2", Config{})
	require.NoError(t, err)

	p := newMockParticipant("a")
	require.True(t, reg.AddParticipant("room-1", p))
	require.True(t, reg.AddParticipant("room-2", p))

	reg.RemoveFromAllRooms("a")
	assert.Equal(t, 0, r1.Size())
	assert.Equal(t, 0, r2.Size())
}

func TestRegistry_Views(t *testing.T) {
	reg := newTestRegistry(nil)
	_, err := reg.Register("room-1", Config{Name: "First", MaxSize: 1})
	require.NoError(t, err)

	views := reg.Views()
	require.Len(t, views, 1)
	v := views["room-1"]
	assert.Equal(t, "First", v.Name())
	assert.Equal(t, 0, v.Size())
	assert.False(t, v.IsFull())
}
