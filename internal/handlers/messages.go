package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"live-session/internal/models"
	"live-session/internal/repositories"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// MessageHandler manages session message and read-state endpoints.
type MessageHandler struct {
	Deps
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(deps Deps) *MessageHandler {
	return &MessageHandler{Deps: deps.withDefaults()}
}

// ListMessages returns one history page, newest first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	if _, ok := requireParticipant(c, h.Participants); !ok {
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxPageSize)
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		before = &ts
	}

	msgs, err := h.Messages.ListMessagesBefore(c.Request.Context(), c.Param("session_id"), before, limit)
	if err != nil {
		h.Logger.Error("list messages", zap.String("session_id", c.Param("session_id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and broadcasts it.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	sender, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}

	var req models.NewMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ContentType == "" {
		req.ContentType = models.ContentText
	}
	if !req.ContentType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid content type"})
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.MediaURL == nil && req.ContentType != models.ContentGift {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no content"})
		return
	}
	req.ConversationID = c.Param("session_id")
	req.SenderID = sender.UserID

	msg, err := h.Messages.CreateMessage(c.Request.Context(), req)
	if err != nil {
		h.Logger.Error("create message", zap.String("session_id", req.ConversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if err := h.ReadStates.IncrementUnread(c.Request.Context(), req.ConversationID, sender.UserID); err != nil {
		h.Logger.Warn("increment unread", zap.String("session_id", req.ConversationID), zap.Error(err))
	}

	h.broadcast(c, models.FeedEvent{Type: models.EventMessageInserted, Message: &msg})
	c.JSON(http.StatusCreated, msg)
}

// DeleteMessage soft-deletes a message (sender only) and broadcasts the update.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}

	msg, err := h.Messages.SoftDeleteMessage(c.Request.Context(), c.Param("session_id"), c.Param("message_id"), caller.UserID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, repositories.ErrNotSender):
			c.JSON(http.StatusForbidden, gin.H{"error": "only sender can delete"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		}
		return
	}

	h.broadcast(c, models.FeedEvent{Type: models.EventMessageUpdated, Message: &msg})
	c.JSON(http.StatusOK, msg)
}

// GetReadState returns the caller's unread counter.
func (h *MessageHandler) GetReadState(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}

	state, err := h.ReadStates.GetReadState(c.Request.Context(), c.Param("session_id"), caller.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load read state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// MarkRead zeroes the caller's unread counter.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}

	state, err := h.ReadStates.MarkRead(c.Request.Context(), c.Param("session_id"), caller.UserID, h.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, state)
}
