package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"live-session/internal/models"
)

// Media signal routing keys consumed by the conferencing layer.
const (
	SignalCoHostPromoted = "media.cohost_promoted"
	SignalGuestEnded     = "media.guest_ended"
)

// MediaSignal tells the conferencing layer to start or stop publishing a
// participant's tracks.
type MediaSignal struct {
	Signal     string      `json:"signal"`
	SessionID  string      `json:"session_id"`
	UserID     string      `json:"user_id"`
	Role       models.Role `json:"role"`
	OccurredAt string      `json:"occurred_at"`
}

// LogFields describes the signal for noop publishers.
func (s MediaSignal) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("signal", s.Signal),
		zap.String("session_id", s.SessionID),
		zap.String("user_id", s.UserID),
	}
}

// MediaSignaller publishes role changes that affect media publishing.
type MediaSignaller struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewMediaSignaller(publisher Publisher, logger *zap.Logger) *MediaSignaller {
	return &MediaSignaller{publisher: publisher, logger: logger}
}

// RoleChanged emits a signal when role moves to or from co-host. It reports
// the signal sent, or "" when the change does not concern media.
func (m *MediaSignaller) RoleChanged(ctx context.Context, sessionID, userID string, from, to models.Role) string {
	if m == nil || m.publisher == nil || from == to {
		return ""
	}
	var signal string
	switch {
	case to == models.RoleCoHost:
		signal = SignalCoHostPromoted
	case from == models.RoleCoHost:
		signal = SignalGuestEnded
	default:
		return ""
	}

	msg := MediaSignal{
		Signal:     signal,
		SessionID:  sessionID,
		UserID:     userID,
		Role:       to,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := m.publisher.Publish(ctx, signal, msg); err != nil {
		m.logger.Warn("media signal publish failed", zap.String("signal", signal), zap.String("session_id", sessionID), zap.Error(err))
	}
	return signal
}
