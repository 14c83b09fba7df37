// Package transport binds the routing core to its outer surfaces: the
// WebSocket endpoint with its frame dispatcher, and the REST facade over
// rooms and triggers.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/auth"
	"github.com/dialoguehq/dialogue/internal/v1/client"
	"github.com/dialoguehq/dialogue/internal/v1/config"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
	"github.com/dialoguehq/dialogue/internal/v1/ratelimit"
	"github.com/dialoguehq/dialogue/internal/v1/room"
)

// Hub owns the registries and wires connections into them. One Hub per
// process.
type Hub struct {
	cfg *config.Config
	hks *hooks.Hooks

	store   *history.Store
	rooms   *room.Registry
	clients *client.Registry

	guard          *ratelimit.Guard
	historyLimiter *ratelimit.Window

	upgrader websocket.Upgrader
}

// NewHub assembles the routing core: history store, room registry, client
// registry, and the per-connection history limiter. hks may be nil for a
// hook-free server.
func NewHub(cfg *config.Config, hks *hooks.Hooks, guard *ratelimit.Guard) *Hub {
	if hks == nil {
		hks = &hooks.Hooks{}
	}

	store := history.NewStore(hks.Events.OnCleanup)
	h := &Hub{
		cfg:            cfg,
		hks:            hks,
		store:          store,
		rooms:          room.NewRegistry(store, hks),
		clients:        client.NewRegistry(),
		guard:          guard,
		historyLimiter: ratelimit.NewWindow(cfg.HistoryRateMax, cfg.HistoryRateWindow),
	}
	h.rooms.SetContextFunc(h.snapshotCtx)

	allowed := auth.SplitOrigins(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Rooms exposes the room registry for static config and embedders.
func (h *Hub) Rooms() *room.Registry { return h.rooms }

// Clients exposes the client registry.
func (h *Hub) Clients() *client.Registry { return h.clients }

// JWTAuthenticate adapts a token validator into the authenticate hook shape.
// Installed as the default hook when no user hook is configured and auth is
// enabled.
func JWTAuthenticate(v auth.TokenValidator) hooks.AuthenticateFunc {
	return func(_ *hooks.Context, _ any, authData map[string]any) (*auth.Data, error) {
		tok, _ := authData["token"].(string)
		if tok == "" {
			return nil, errors.New("no token provided")
		}
		claims, err := v.ValidateToken(tok)
		if err != nil {
			return nil, errors.New("invalid token")
		}
		return auth.FromClaims(claims), nil
	}
}

// snapshotCtx builds the hook context from both registries.
func (h *Hub) snapshotCtx() *hooks.Context {
	return &hooks.Context{
		Rooms:   h.rooms.Views(),
		Clients: h.clients.Views(),
	}
}

// ServeWs handles a WebSocket handshake: per-IP connect limit, upgrade,
// authentication, client registration, then the read loop until disconnect.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	if h.guard != nil && !h.guard.CheckWebSocket(c) {
		return
	}

	authData := make(map[string]any)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			authData[key] = values[0]
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "WebSocket upgrade failed", zap.Error(err))
		return
	}

	connID := protocol.ConnectionID(uuid.New().String())
	wsc := newWSConn(connID, conn)
	go wsc.writePump()

	userID, authResult, err := h.authenticate(wsc, authData, connID)
	if err != nil {
		logging.Warn(ctx, "Authentication failed, closing connection",
			zap.Error(err), zap.String("connectionId", string(connID)))
		wsc.Send(protocol.FrameError, protocol.ErrorPayload{
			Code:    protocol.CodePermissionDenied,
			Message: err.Error(),
		})
		wsc.Close()
		return
	}

	cl := client.New(connID, userID, authResult, wsc, h.rooms)
	h.clients.Add(cl)
	metrics.IncConnection()

	logging.Info(ctx, "Client connected",
		zap.String("connectionId", string(connID)), zap.String("userId", string(userID)))

	if h.hks.Socket.OnConnect != nil {
		hook := h.hks.Socket.OnConnect
		hooks.Go("socket.onConnect", func() { hook(h.snapshotCtx(), wsc) })
	}
	if h.hks.Clients.OnConnected != nil {
		hook := h.hks.Clients.OnConnected
		hooks.Go("clients.onConnected", func() { hook(h.snapshotCtx(), cl) })
	}

	cl.Emit(protocol.FrameConnected, protocol.ConnectedPayload{ClientID: connID, UserID: userID})

	// The read loop owns this goroutine; it returns when the peer goes away.
	wsc.readPump(
		func(frame protocol.Frame) { h.dispatch(cl, frame) },
		func() { h.teardown(cl, wsc) },
	)
}

// authenticate resolves the connection's identity: the authenticate hook when
// configured, the legacy extraction otherwise.
func (h *Hub) authenticate(socket any, authData map[string]any, connID protocol.ConnectionID) (protocol.UserID, *auth.Data, error) {
	if h.hks.Authenticate != nil {
		data, err := h.hks.Authenticate(h.snapshotCtx(), socket, authData)
		if err != nil {
			return "", nil, err
		}
		sub := ""
		if data != nil {
			sub = data.JWT.Sub()
		}
		if sub == "" {
			return "", nil, errors.New("authenticate hook returned no subject")
		}
		return protocol.UserID(sub), data, nil
	}

	uid := auth.ExtractFallbackUserID(authData, string(connID))
	return protocol.UserID(uid), nil, nil
}

// teardown runs the disconnect sequence exactly once per connection, in
// order: observer hooks, room eviction, registry purge.
func (h *Hub) teardown(cl *client.Client, wsc *wsConn) {
	ctx := context.Background()

	if h.hks.Clients.OnDisconnected != nil {
		hook := h.hks.Clients.OnDisconnected
		hooks.Go("clients.onDisconnected", func() { hook(h.snapshotCtx(), cl) })
	}
	if h.hks.Socket.OnDisconnect != nil {
		hook := h.hks.Socket.OnDisconnect
		hooks.Go("socket.onDisconnect", func() { hook(h.snapshotCtx(), wsc) })
	}

	cl.Disconnect()
	h.clients.Remove(cl.ConnectionID())
	h.historyLimiter.Forget(string(cl.ConnectionID()))
	metrics.DecConnection()

	logging.Info(ctx, "Client disconnected",
		zap.String("connectionId", string(cl.ConnectionID())),
		zap.String("userId", string(cl.UserID())))
}

// Broadcast emits a frame to every connected client.
func (h *Hub) Broadcast(frameType string, payload any) {
	for _, cl := range h.clients.All() {
		cl.Emit(frameType, payload)
	}
}

// Trigger runs the trigger pipeline for server-originated events (REST
// facade, embedders). An empty from is stamped as the system sender.
func (h *Hub) Trigger(roomID protocol.RoomID, eventName string, data any, from string, meta map[string]any) error {
	r, ok := h.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	return r.Trigger(eventName, data, from, meta)
}

// Shutdown closes every client connection and stops the history limiter's
// sweeper. Blocks until connections drain or the context expires.
func (h *Hub) Shutdown(ctx context.Context) {
	for _, cl := range h.clients.All() {
		cl.Disconnect()
	}

	deadline := time.NewTicker(50 * time.Millisecond)
	defer deadline.Stop()
	for h.clients.Count() > 0 {
		select {
		case <-ctx.Done():
			logging.Warn(ctx, "Shutdown deadline reached with connections remaining",
				zap.Int("remaining", h.clients.Count()))
			h.historyLimiter.Close()
			return
		case <-deadline.C:
		}
	}
	h.historyLimiter.Close()
}
