package observability

import (
	"net"
	"net/http"
	"strings"
)

// ParticipantHeader carries the caller identity set by the upstream gateway.
const ParticipantHeader = "X-Participant-ID"

// ParticipantIDFromRequest reads the caller identity from the header, or
// from the participant_id query parameter for browser websockets.
func ParticipantIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ParticipantHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("participant_id"))
}

func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

func IPFromRequest(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
