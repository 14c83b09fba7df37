// Package protocol defines the wire contract between Dialogue clients and the
// server: the JSON frame envelope, the event message shape, frame names for
// both directions, and the error codes surfaced to clients.
package protocol

import "encoding/json"

// --- Core identifier types ---

// RoomID uniquely identifies a room within the process.
type RoomID string

// ConnectionID uniquely identifies a single transport connection.
type ConnectionID string

// UserID identifies a user. Several connections may share one UserID.
type UserID string

// Wildcard is the sentinel event name meaning "all events". It appears both
// in room allow-lists and in per-room subscription sets.
const Wildcard = "*"

// SystemSender is the `from` value of server-originated events with no
// explicit sender.
const SystemSender = "system"

// EventMessage is the envelope of every event on the wire. The five required
// fields are a fixed contract; only Data and Meta are caller-controlled.
type EventMessage struct {
	Event     string         `json:"event"`
	RoomID    RoomID         `json:"roomId"`
	Data      any            `json:"data"`
	From      string         `json:"from"`
	Timestamp int64          `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Frame is the outermost JSON object carried over the transport in both
// directions: a frame name plus an opaque payload.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeFrame parses a raw transport message into a Frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// EncodeFrame serializes a frame name and payload into a transport message.
func EncodeFrame(frameType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Payload: raw})
}

// --- Server-to-client frame names ---

const (
	FrameConnected       = "dialogue:connected"
	FrameJoined          = "dialogue:joined"
	FrameLeft            = "dialogue:left"
	FrameEvent           = "dialogue:event"
	FrameHistory         = "dialogue:history"
	FrameHistoryResponse = "dialogue:historyResponse"
	FrameRooms           = "dialogue:rooms"
	FrameRoomCreated     = "dialogue:roomCreated"
	FrameRoomDeleted     = "dialogue:roomDeleted"
	FrameError           = "dialogue:error"
)

// --- Client-to-server verbs ---

const (
	VerbJoin         = "dialogue:join"
	VerbLeave        = "dialogue:leave"
	VerbSubscribe    = "dialogue:subscribe"
	VerbSubscribeAll = "dialogue:subscribeAll"
	VerbUnsubscribe  = "dialogue:unsubscribe"
	VerbTrigger      = "dialogue:trigger"
	VerbGetHistory   = "dialogue:getHistory"
	VerbListRooms    = "dialogue:listRooms"
	VerbCreateRoom   = "dialogue:createRoom"
	VerbDeleteRoom   = "dialogue:deleteRoom"
)

// --- Error codes ---

const (
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeRoomExists       = "ROOM_EXISTS"
	CodeRoomFull         = "ROOM_FULL"
	CodeJoinDenied       = "JOIN_DENIED"
	CodeEventNotAllowed  = "EVENT_NOT_ALLOWED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeRateLimited      = "RATE_LIMITED"
)

// --- Server-to-client payloads ---

// ConnectedPayload acknowledges a completed handshake.
type ConnectedPayload struct {
	ClientID ConnectionID `json:"clientId"`
	UserID   UserID       `json:"userId"`
}

// JoinedPayload acknowledges a join.
type JoinedPayload struct {
	RoomID   RoomID `json:"roomId"`
	RoomName string `json:"roomName"`
}

// LeftPayload acknowledges a leave.
type LeftPayload struct {
	RoomID RoomID `json:"roomId"`
}

// HistoryPayload carries the history snapshot sent on join, newest-first.
type HistoryPayload struct {
	RoomID RoomID         `json:"roomId"`
	Events []EventMessage `json:"events"`
}

// HistoryResponsePayload answers an explicit getHistory request.
type HistoryResponsePayload struct {
	RoomID    RoomID         `json:"roomId"`
	EventName *string        `json:"eventName"`
	Events    []EventMessage `json:"events"`
	Start     int            `json:"start"`
	End       int            `json:"end"`
}

// RoomInfo is the public summary of a room.
type RoomInfo struct {
	ID          RoomID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Size        int    `json:"size"`
	MaxSize     int    `json:"maxSize,omitempty"`
	CreatedByID UserID `json:"createdById,omitempty"`
}

// RoomDeletedPayload notifies former participants of a deleted room.
type RoomDeletedPayload struct {
	RoomID RoomID `json:"roomId"`
}

// ErrorPayload is the uniform error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// --- Client-to-server payloads ---

// JoinPayload targets a room for join/leave style verbs.
type JoinPayload struct {
	RoomID RoomID `json:"roomId"`
}

// SubscribePayload adds or removes one event name from a subscription set.
type SubscribePayload struct {
	RoomID    RoomID `json:"roomId"`
	EventName string `json:"eventName"`
}

// TriggerPayload asks the server to broadcast an event into a room.
type TriggerPayload struct {
	RoomID RoomID         `json:"roomId"`
	Event  string         `json:"event"`
	Data   any            `json:"data"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// GetHistoryPayload requests a paginated history window. Start and End are
// newest-first positions; nil fields take the server defaults.
type GetHistoryPayload struct {
	RoomID    RoomID  `json:"roomId"`
	EventName *string `json:"eventName,omitempty"`
	Start     *int    `json:"start,omitempty"`
	End       *int    `json:"end,omitempty"`
}

// CreateRoomPayload creates a dynamic room owned by the requesting user.
type CreateRoomPayload struct {
	ID          RoomID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MaxSize     int    `json:"maxSize,omitempty"`
}
