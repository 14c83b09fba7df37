// Package hooks declares the user-extension points of the routing core. Each
// hook group is a struct of optional function values; a nil field means "not
// configured". Synchronous hooks (Authenticate, BeforeJoin, BeforeEach,
// AfterEach) run on the calling path; everything else is dispatched
// fire-and-forget via Go, which recovers panics and logs them.
package hooks

import (
	"github.com/dialoguehq/dialogue/internal/v1/auth"
	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// RoomView is the read-only room surface exposed to hooks.
type RoomView interface {
	ID() protocol.RoomID
	Name() string
	Size() int
	IsFull() bool
}

// ClientView is the read-only client surface exposed to hooks.
type ClientView interface {
	ConnectionID() protocol.ConnectionID
	UserID() protocol.UserID
	JoinedRooms() []protocol.RoomID
}

// Context is the snapshot view passed to every hook: the rooms and clients
// known at invocation time. Mutating the maps has no effect on the core.
type Context struct {
	Rooms   map[protocol.RoomID]RoomView
	Clients map[protocol.ConnectionID]ClientView
}

// AuthenticateFunc inspects the handshake's auth payload and either returns
// the authenticated identity or denies the connection. socket is the
// underlying transport connection, untyped so hooks stay transport-agnostic.
type AuthenticateFunc func(ctx *Context, socket any, authData map[string]any) (*auth.Data, error)

// SocketHooks observe raw connection lifecycle. Fire-and-forget.
type SocketHooks struct {
	OnConnect    func(ctx *Context, socket any)
	OnDisconnect func(ctx *Context, socket any)
}

// ClientHooks observe and control client lifecycle. BeforeJoin is
// synchronous: a non-nil error denies the join and its message reaches the
// client. The rest are fire-and-forget.
type ClientHooks struct {
	BeforeJoin     func(ctx *Context, client ClientView, roomID protocol.RoomID, room RoomView) error
	OnConnected    func(ctx *Context, client ClientView)
	OnDisconnected func(ctx *Context, client ClientView)
	OnJoined       func(ctx *Context, client ClientView, roomID protocol.RoomID)
	OnLeft         func(ctx *Context, client ClientView, roomID protocol.RoomID)
}

// EventHooks intercept the trigger pipeline. BeforeEach is synchronous and
// may mutate msg.Data and msg.Meta only; a non-nil error aborts the trigger.
// AfterEach is synchronous with no return. OnTriggered and OnCleanup are
// fire-and-forget. OnLoad may suspend; it runs off the trigger hot path.
type EventHooks struct {
	BeforeEach  func(ctx *Context, roomID protocol.RoomID, msg *protocol.EventMessage, from string) error
	AfterEach   func(ctx *Context, roomID protocol.RoomID, msg protocol.EventMessage, recipients int)
	OnTriggered func(roomID protocol.RoomID, msg protocol.EventMessage)
	OnCleanup   history.CleanupFunc
	OnLoad      history.LoadFunc
}

// RoomHooks observe registry lifecycle. Fire-and-forget.
type RoomHooks struct {
	OnCreated func(ctx *Context, info protocol.RoomInfo)
	OnDeleted func(ctx *Context, roomID protocol.RoomID)
}

// Hooks bundles every extension point. The zero value is fully inert.
type Hooks struct {
	Authenticate AuthenticateFunc
	Socket       SocketHooks
	Clients      ClientHooks
	Events       EventHooks
	Rooms        RoomHooks
}

// Go dispatches fn fire-and-forget, recovering and logging any panic under
// the given hook name.
func Go(at string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.HookError(at, r)
			}
		}()
		fn()
	}()
}

// Sync runs fn on the calling goroutine, recovering and logging panics.
// Used for synchronous no-return hooks (AfterEach) whose failures must not
// break the pipeline.
func Sync(at string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.HookError(at, r)
		}
	}()
	fn()
}
