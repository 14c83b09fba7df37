package transport

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/client"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
	"github.com/dialoguehq/dialogue/internal/v1/room"
)

// History pagination: defaults applied when getHistory omits start/end, and
// the hard cap on the window size.
const (
	historyDefaultStart = 0
	historyDefaultEnd   = 50
	historyMaxWindow    = 200
)

// dispatch routes one inbound frame. Frames arrive from a single read loop,
// so verbs on one connection are processed strictly in arrival order.
func (h *Hub) dispatch(cl *client.Client, frame protocol.Frame) {
	switch frame.Type {
	case protocol.VerbJoin:
		h.handleJoin(cl, frame.Payload)
	case protocol.VerbLeave:
		h.handleLeave(cl, frame.Payload)
	case protocol.VerbSubscribe:
		h.handleSubscribe(cl, frame.Payload)
	case protocol.VerbSubscribeAll:
		h.handleSubscribeAll(cl, frame.Payload)
	case protocol.VerbUnsubscribe:
		h.handleUnsubscribe(cl, frame.Payload)
	case protocol.VerbTrigger:
		h.handleTrigger(cl, frame.Payload)
	case protocol.VerbGetHistory:
		h.handleGetHistory(cl, frame.Payload)
	case protocol.VerbListRooms:
		h.handleListRooms(cl)
	case protocol.VerbCreateRoom:
		h.handleCreateRoom(cl, frame.Payload)
	case protocol.VerbDeleteRoom:
		h.handleDeleteRoom(cl, frame.Payload)
	default:
		logging.Warn(context.Background(), "Dropping unknown verb",
			zap.String("verb", frame.Type),
			zap.String("connectionId", string(cl.ConnectionID())))
	}
}

// decode unmarshals a verb payload. Malformed payloads are dropped with a
// warning; only verbs with an explicit INVALID_REQUEST contract answer them.
func decode[T any](cl *client.Client, verb string, raw json.RawMessage, out *T) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		logging.Warn(context.Background(), "Dropping malformed payload",
			zap.Error(err), zap.String("verb", verb),
			zap.String("connectionId", string(cl.ConnectionID())))
		return false
	}
	return true
}

func (h *Hub) sendError(cl *client.Client, code, message string) {
	cl.Emit(protocol.FrameError, protocol.ErrorPayload{Code: code, Message: message})
}

func (h *Hub) handleJoin(cl *client.Client, raw json.RawMessage) {
	var p protocol.JoinPayload
	if !decode(cl, protocol.VerbJoin, raw, &p) || p.RoomID == "" {
		return
	}

	r, ok := h.rooms.Get(p.RoomID)
	if !ok {
		logging.Warn(context.Background(), "Join for unknown room",
			zap.String("roomId", string(p.RoomID)),
			zap.String("connectionId", string(cl.ConnectionID())))
		return
	}

	if h.hks.Clients.BeforeJoin != nil {
		if err := h.hks.Clients.BeforeJoin(h.snapshotCtx(), cl, p.RoomID, r); err != nil {
			h.sendError(cl, protocol.CodeJoinDenied, err.Error())
			return
		}
	}

	cl.Join(p.RoomID)
	if !cl.InRoom(p.RoomID) {
		return // capacity miss, ROOM_FULL already sent
	}

	if h.hks.Clients.OnJoined != nil {
		hook := h.hks.Clients.OnJoined
		hooks.Go("clients.onJoined", func() { hook(h.snapshotCtx(), cl, p.RoomID) })
	}

	// The joined ack is already out; the history snapshot follows it.
	if mode := r.Config().SyncHistoryOnJoin; mode != room.SyncNone {
		limit := int(mode)
		if mode == room.SyncAll {
			limit = 0
		}
		events := h.store.GetAll(p.RoomID, limit)
		cl.Emit(protocol.FrameHistory, protocol.HistoryPayload{RoomID: p.RoomID, Events: events})
	}
}

func (h *Hub) handleLeave(cl *client.Client, raw json.RawMessage) {
	var p protocol.JoinPayload
	if !decode(cl, protocol.VerbLeave, raw, &p) || p.RoomID == "" {
		return
	}
	if !cl.InRoom(p.RoomID) {
		return
	}

	cl.Leave(p.RoomID)

	if h.hks.Clients.OnLeft != nil {
		hook := h.hks.Clients.OnLeft
		hooks.Go("clients.onLeft", func() { hook(h.snapshotCtx(), cl, p.RoomID) })
	}
}

func (h *Hub) handleSubscribe(cl *client.Client, raw json.RawMessage) {
	var p protocol.SubscribePayload
	if !decode(cl, protocol.VerbSubscribe, raw, &p) || p.RoomID == "" || p.EventName == "" {
		return
	}
	cl.Subscribe(p.RoomID, p.EventName)
}

func (h *Hub) handleSubscribeAll(cl *client.Client, raw json.RawMessage) {
	var p protocol.JoinPayload
	if !decode(cl, protocol.VerbSubscribeAll, raw, &p) || p.RoomID == "" {
		return
	}
	cl.SubscribeAll(p.RoomID)
}

func (h *Hub) handleUnsubscribe(cl *client.Client, raw json.RawMessage) {
	var p protocol.SubscribePayload
	if !decode(cl, protocol.VerbUnsubscribe, raw, &p) || p.RoomID == "" || p.EventName == "" {
		return
	}
	cl.Unsubscribe(p.RoomID, p.EventName)
}

func (h *Hub) handleTrigger(cl *client.Client, raw json.RawMessage) {
	var p protocol.TriggerPayload
	if !decode(cl, protocol.VerbTrigger, raw, &p) || p.RoomID == "" || p.Event == "" {
		return
	}

	r, ok := h.rooms.Get(p.RoomID)
	if !ok {
		h.sendError(cl, protocol.CodeRoomNotFound, "Room '"+string(p.RoomID)+"' not found")
		return
	}

	err := r.Trigger(p.Event, p.Data, string(cl.UserID()), p.Meta)
	if err == nil {
		return
	}
	if room.IsNotAllowed(err) {
		h.sendError(cl, protocol.CodeEventNotAllowed, err.Error())
		return
	}
	h.sendError(cl, protocol.CodeValidationFailed, err.Error())
}

func (h *Hub) handleGetHistory(cl *client.Client, raw json.RawMessage) {
	connID := string(cl.ConnectionID())
	if !h.historyLimiter.IsAllowed(connID) {
		metrics.RateLimitRejections.WithLabelValues("history").Inc()
		h.sendError(cl, protocol.CodeRateLimited, "Too many history requests")
		return
	}

	var p protocol.GetHistoryPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		h.sendError(cl, protocol.CodeInvalidRequest, "Invalid getHistory request")
		return
	}

	start := historyDefaultStart
	if p.Start != nil {
		start = *p.Start
	}
	end := historyDefaultEnd
	if p.End != nil {
		end = *p.End
	}
	if start < 0 || end < start {
		h.sendError(cl, protocol.CodeInvalidRequest, "Invalid history range")
		return
	}
	if end-start > historyMaxWindow {
		logging.Warn(context.Background(), "Clamping oversized history window",
			zap.Int("start", start), zap.Int("end", end),
			zap.String("connectionId", connID))
		end = start + historyMaxWindow
	}

	r, ok := h.rooms.Get(p.RoomID)
	if !ok {
		h.sendError(cl, protocol.CodeRoomNotFound, "Room '"+string(p.RoomID)+"' not found")
		return
	}

	var events []protocol.EventMessage
	if p.EventName != nil && *p.EventName != "" {
		events = r.History(context.Background(), *p.EventName, start, end)
	} else {
		// Newest-first window across every event in the room. External
		// archive lookups are per event name, so the cross-event view is
		// in-memory only.
		all := h.store.GetAll(p.RoomID, 0)
		lo, hi := start, end
		if lo > len(all) {
			lo = len(all)
		}
		if hi > len(all) {
			hi = len(all)
		}
		events = all[lo:hi]
	}

	cl.Emit(protocol.FrameHistoryResponse, protocol.HistoryResponsePayload{
		RoomID:    p.RoomID,
		EventName: p.EventName,
		Events:    events,
		Start:     start,
		End:       end,
	})
}

func (h *Hub) handleListRooms(cl *client.Client) {
	rooms := h.rooms.All()
	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	cl.Emit(protocol.FrameRooms, infos)
}

func (h *Hub) handleCreateRoom(cl *client.Client, raw json.RawMessage) {
	var p protocol.CreateRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		h.sendError(cl, protocol.CodeInvalidRequest, "Invalid createRoom request")
		return
	}

	// Client-created rooms carry no allow-list, so every event name passes.
	// Deployments that need strict allow-lists disable them wholesale.
	if h.cfg.ForbidWildcardRooms {
		h.sendError(cl, protocol.CodeInvalidRequest, "Client-created rooms are disabled")
		return
	}

	r, err := h.rooms.Register(p.ID, room.Config{
		Name:        p.Name,
		Description: p.Description,
		MaxSize:     p.MaxSize,
		CreatedByID: cl.UserID(),
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			h.sendError(cl, protocol.CodeRoomExists, "Room '"+string(p.ID)+"' already exists")
			return
		}
		h.sendError(cl, protocol.CodeInvalidRequest, err.Error())
		return
	}

	// The creator gets the ack directly and again through the broadcast.
	info := r.Info()
	cl.Emit(protocol.FrameRoomCreated, info)
	h.Broadcast(protocol.FrameRoomCreated, info)
}

func (h *Hub) handleDeleteRoom(cl *client.Client, raw json.RawMessage) {
	var p protocol.JoinPayload
	if !decode(cl, protocol.VerbDeleteRoom, raw, &p) || p.RoomID == "" {
		return
	}

	r, ok := h.rooms.Get(p.RoomID)
	if !ok {
		h.sendError(cl, protocol.CodeRoomNotFound, "Room '"+string(p.RoomID)+"' not found")
		return
	}

	creator := r.Config().CreatedByID
	if creator == "" || creator != cl.UserID() {
		h.sendError(cl, protocol.CodePermissionDenied, "Only the room creator can delete it")
		return
	}

	h.rooms.Unregister(p.RoomID)
}
