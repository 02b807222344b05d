package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"live-session/internal/models"
)

// TypingHandler manages typing status endpoints.
type TypingHandler struct {
	Deps
}

// NewTypingHandler builds a TypingHandler.
func NewTypingHandler(deps Deps) *TypingHandler {
	return &TypingHandler{Deps: deps.withDefaults()}
}

// PutTyping records the caller's typing flag, stamped with server time.
func (h *TypingHandler) PutTyping(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}

	var req struct {
		IsTyping *bool `json:"is_typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.Typing.UpsertTyping(c.Request.Context(), c.Param("session_id"), models.TypingEntry{
		ParticipantID: caller.UserID,
		IsTyping:      *req.IsTyping,
		UpdatedAt:     h.Now().UTC(),
	})
	if err != nil {
		h.Logger.Warn("upsert typing", zap.String("session_id", c.Param("session_id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store typing status"})
		return
	}

	h.broadcast(c, models.FeedEvent{Type: models.EventTypingUpdated, Typing: &entry})
	c.JSON(http.StatusOK, entry)
}

// ListTyping returns participants currently typing.
func (h *TypingHandler) ListTyping(c *gin.Context) {
	if _, ok := requireParticipant(c, h.Participants); !ok {
		return
	}

	list, err := h.Typing.ListTyping(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load typing status"})
		return
	}
	if list == nil {
		list = []models.TypingEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"typing": list})
}
