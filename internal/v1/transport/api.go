package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dialoguehq/dialogue/internal/v1/protocol"
	"github.com/dialoguehq/dialogue/internal/v1/room"
)

// RegisterAPI mounts the REST facade. It is an operator surface: room
// management and server-originated triggers without a WebSocket session.
func (h *Hub) RegisterAPI(rg *gin.RouterGroup) {
	rg.GET("/rooms", h.apiListRooms)
	rg.POST("/rooms", h.apiCreateRoom)
	rg.DELETE("/rooms/:roomId", h.apiDeleteRoom)
	rg.POST("/rooms/:roomId/trigger", h.apiTrigger)
}

func (h *Hub) apiListRooms(c *gin.Context) {
	rooms := h.rooms.All()
	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	c.JSON(http.StatusOK, gin.H{"rooms": infos})
}

type apiCreateRoomRequest struct {
	ID          protocol.RoomID `json:"id" binding:"required"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	MaxSize     int             `json:"maxSize"`
}

func (h *Hub) apiCreateRoom(c *gin.Context) {
	var req apiCreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	if h.cfg.ForbidWildcardRooms {
		c.JSON(http.StatusForbidden, gin.H{"error": "dynamic room creation is disabled"})
		return
	}

	r, err := h.rooms.Register(req.ID, room.Config{
		Name:        req.Name,
		Description: req.Description,
		MaxSize:     req.MaxSize,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := r.Info()
	h.Broadcast(protocol.FrameRoomCreated, info)
	c.JSON(http.StatusCreated, info)
}

// apiDeleteRoom removes any room regardless of creator. The REST surface is
// operator-authenticated upstream, unlike the WebSocket verb.
func (h *Hub) apiDeleteRoom(c *gin.Context) {
	roomID := protocol.RoomID(c.Param("roomId"))
	if !h.rooms.Unregister(roomID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type apiTriggerRequest struct {
	Event string         `json:"event" binding:"required"`
	Data  any            `json:"data"`
	Meta  map[string]any `json:"meta"`
}

func (h *Hub) apiTrigger(c *gin.Context) {
	roomID := protocol.RoomID(c.Param("roomId"))

	var req apiTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event is required"})
		return
	}

	err := h.Trigger(roomID, req.Event, req.Data, "", req.Meta)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "triggered"})
	case errors.Is(err, room.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case room.IsNotAllowed(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
