package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"live-session/internal/middleware"
	"live-session/internal/models"
	"live-session/internal/repositories"
	"live-session/internal/telemetry"
	"live-session/internal/ws"
)

// Deps are the collaborators shared by the session handlers.
type Deps struct {
	Messages     repositories.MessageRepository
	ReadStates   repositories.ReadStateRepository
	Typing       repositories.TypingRepository
	Participants repositories.ParticipantRepository
	Invitations  repositories.InvitationRepository
	Feed         ws.Broadcaster
	Audit        *telemetry.AuditEmitter
	Media        *telemetry.MediaSignaller
	MaxGuests    int
	Logger       *zap.Logger
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MaxGuests <= 0 {
		d.MaxGuests = 3
	}
	return d
}

// requireParticipant loads the caller's participant row, writing the error
// response and returning false when the caller is not in the session.
func requireParticipant(c *gin.Context, participants repositories.ParticipantRepository) (models.Participant, bool) {
	sessionID := c.Param("session_id")
	p, err := participants.GetParticipant(c.Request.Context(), sessionID, middleware.ParticipantID(c))
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
			return models.Participant{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify participant"})
		return models.Participant{}, false
	}
	return p, true
}

func (d Deps) broadcast(c *gin.Context, ev models.FeedEvent) {
	if d.Feed == nil {
		return
	}
	ev.SessionID = c.Param("session_id")
	ev.OccurredAt = d.Now().UTC()
	d.Feed.Broadcast(c.Request.Context(), ev)
}

func (d Deps) audit(c *gin.Context, text string, fields map[string]string) {
	d.Audit.Emit(c.Request.Context(), telemetry.AuditEntry{
		Level:     "INFO",
		Text:      text,
		RequestID: middleware.RequestID(c),
		SessionID: c.Param("session_id"),
		UserID:    middleware.ParticipantID(c),
		Fields:    fields,
	})
}
