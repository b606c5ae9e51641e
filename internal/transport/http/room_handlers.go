package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/core"
	"github.com/roomchat/roomchat-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	registry *core.Registry
	messages store.MessageStore
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(registry *core.Registry, messages store.MessageStore, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: registry,
		messages: messages,
		log:      logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name         string `json:"name" binding:"required,min=1,max=64"`
	Description  string `json:"description"`
	IsRestricted bool   `json:"is_restricted"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsRestricted bool   `json:"is_restricted"`
	CreatedBy    string `json:"created_by,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// MessageResponse represents a persisted message in API responses.
type MessageResponse struct {
	ID        int64  `json:"id"`
	Room      string `json:"room"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func roomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		Name:         room.Name,
		Description:  room.Description,
		IsRestricted: room.IsRestricted,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt.Format(time.RFC3339),
	}
}

// CreateRoom handles room creation. Admin only.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	username := c.GetString(ContextKeyUsername)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.registry.Create(c.Request.Context(), req.Name, req.Description, req.IsRestricted, username)
	if err != nil {
		if errors.Is(err, core.ErrRoomExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room with this name already exists"})
			return
		}
		h.log.Error().Err(err).Str("room", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms handles listing all rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response = append(response, roomResponse(room))
	}

	c.JSON(http.StatusOK, response)
}

// DeleteRoom handles room deletion with cascade. Admin only.
// DELETE /api/rooms/:name
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	name := c.Param("name")

	if err := h.registry.Delete(c.Request.Context(), name); err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room", name).Msg("failed to delete room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListMessages returns a room's recent history in chronological order.
// GET /api/rooms/:name/messages?limit=N
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	name := c.Param("name")

	exists, err := h.registry.Exists(c.Request.Context(), name)
	if err != nil {
		h.log.Error().Err(err).Str("room", name).Msg("failed to check room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	messages, err := h.messages.RecentMessages(c.Request.Context(), name, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", name).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// Store order is newest first; respond oldest first.
	response := make([]MessageResponse, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		response = append(response, MessageResponse{
			ID:        msg.ID,
			Room:      msg.Room,
			Author:    msg.Author,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, response)
}
