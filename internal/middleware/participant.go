package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"live-session/internal/observability"
)

const (
	participantIDKey = "participantID"
	requestIDKey     = "request_id"
)

// ParticipantMiddleware requires a caller identity. Authentication happens
// upstream; the gateway forwards the verified id in X-Participant-ID.
func ParticipantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := observability.ParticipantIDFromRequest(c.Request)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing participant id"})
			return
		}
		c.Set(participantIDKey, id)
		c.Next()
	}
}

// RequestIDMiddleware stamps every request with an id, reusing X-Request-ID
// when the caller sent one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// ParticipantID returns the identity set by ParticipantMiddleware.
func ParticipantID(c *gin.Context) string {
	return c.GetString(participantIDKey)
}

// RequestID returns the request id, generating one when the middleware did not run.
func RequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	return id
}
