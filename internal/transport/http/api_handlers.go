package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/broker"
	"github.com/quizarena/roomsync/internal/roomsync"
)

// APIHandlers provides HTTP handlers for the room/token REST endpoints.
type APIHandlers struct {
	hub    *broker.Hub
	tokens *broker.TokenConfig
	log    *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *broker.Hub, tokens *broker.TokenConfig, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:    hub,
		tokens: tokens,
		log:    logger,
	}
}

// CreateRoomRequest represents the room registration request body.
type CreateRoomRequest struct {
	RoomID   string `json:"room_id" binding:"required,min=1,max=64"`
	Kind     string `json:"kind" binding:"omitempty,oneof=class_battle coop_raid tournament"`
	JoinCode string `json:"join_code" binding:"omitempty,min=4,max=32"`
}

// IssueTokenRequest represents the token request body.
type IssueTokenRequest struct {
	RoomID        string `json:"room_id" binding:"required"`
	ParticipantID string `json:"participant_id" binding:"required"`
	Name          string `json:"name"`
	JoinCode      string `json:"join_code"`
}

// TokenResponse represents the token response body.
type TokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateRoom registers a room, optionally protected by a join code.
// POST /api/rooms
func (h *APIHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	info := broker.RoomInfo{ID: req.RoomID, Kind: roomsync.RoomKind(req.Kind)}
	if info.Kind == "" {
		info.Kind = roomsync.KindClassBattle
	}
	if req.JoinCode != "" {
		hash, err := broker.HashJoinCode(req.JoinCode)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to hash join code")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		info.JoinCodeHash = hash
	}

	if err := h.hub.RegisterRoom(info); err != nil {
		if errors.Is(err, broker.ErrRoomExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room already exists"})
			return
		}
		h.log.Error().Err(err).Str("room", req.RoomID).Msg("failed to register room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room", req.RoomID).Str("kind", string(info.Kind)).Msg("room registered")
	c.JSON(http.StatusCreated, gin.H{"room_id": req.RoomID})
}

// IssueToken issues a room access token, verifying the join code when
// the room has one.
// POST /api/token
func (h *APIHandlers) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid token request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if info, ok := h.hub.Room(req.RoomID); ok && info.JoinCodeHash != "" {
		if err := broker.CompareJoinCode(info.JoinCodeHash, req.JoinCode); err != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid join code"})
			return
		}
	}

	token, err := broker.GenerateToken(h.tokens, req.RoomID, req.ParticipantID, req.Name)
	if err != nil {
		h.log.Error().Err(err).Str("room", req.RoomID).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token})
}
