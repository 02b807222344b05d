package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"live-session/internal/middleware"
	"live-session/internal/observability"
	"live-session/internal/repositories"
)

// FeedHandler serves the per-session change feed websocket.
type FeedHandler struct {
	hub          *Hub
	participants repositories.ParticipantRepository
	logger       *zap.Logger
}

// NewFeedHandler constructs a FeedHandler.
func NewFeedHandler(hub *Hub, participants repositories.ParticipantRepository, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{hub: hub, participants: participants, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle checks membership, upgrades the connection and registers it.
// The feed is server to client only; inbound frames are read and dropped.
func (h *FeedHandler) Handle(c *gin.Context) {
	sessionID := c.Param("session_id")
	participantID := middleware.ParticipantID(c)

	ctx, span := otel.Tracer("live-session/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("participant.id", participantID))
	c.Request = c.Request.WithContext(ctx)

	if _, err := h.participants.GetParticipant(ctx, sessionID, participantID); err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:        uuid.NewString(),
		SessionID:     sessionID,
		ParticipantID: participantID,
		DeviceID:      observability.DeviceIDFromRequest(c.Request),
		IP:            observability.IPFromRequest(c.Request),
		RequestID:     middleware.RequestID(c),
		TraceID:       span.SpanContext().TraceID().String(),
		ConnectedAt:   time.Now(),
	}
	client := h.hub.AddClient(sessionID, conn, info)

	observability.IncWSActive()
	h.hub.publishLifecycle(ctx, info, "ws_connect", "")
	h.logger.Info("feed subscribed",
		zap.String("session_id", sessionID),
		zap.String("participant_id", participantID),
		zap.String("conn_id", info.ConnID))

	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(sessionID, client)
			observability.DecWSActive()
			h.hub.publishLifecycle(ctx, info, "ws_disconnect", closeReason)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishLifecycle(ctx, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}
