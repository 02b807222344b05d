package ws

import "time"

type ConnInfo struct {
	ConnID        string
	SessionID     string
	ParticipantID string
	DeviceID      string
	IP            string
	RequestID     string
	TraceID       string
	ConnectedAt   time.Time
}

func (info ConnInfo) payload(event, reason string) map[string]any {
	return map[string]any{
		"ws": map[string]any{
			"session_id":  info.SessionID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"participant_id": info.ParticipantID,
			"device_id":      info.DeviceID,
			"ip":             info.IP,
		},
	}
}
