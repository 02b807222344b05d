package models

import "time"

// Feed event types delivered on a session's change feed.
const (
	EventMessageInserted    = "message.inserted"
	EventMessageUpdated     = "message.updated"
	EventTypingUpdated      = "typing.updated"
	EventInvitationCreated  = "invitation.created"
	EventInvitationUpdated  = "invitation.updated"
	EventParticipantUpdated = "participant.updated"
)

// FeedEvent is a row-level change notification for one session.
type FeedEvent struct {
	Type        string       `json:"type"`
	SessionID   string       `json:"session_id"`
	Message     *Message     `json:"message,omitempty"`
	Typing      *TypingEntry `json:"typing,omitempty"`
	Invitation  *Invitation  `json:"invitation,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}
