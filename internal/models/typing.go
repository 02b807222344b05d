package models

import "time"

// TypingEntry is the typing status of one participant in a conversation.
type TypingEntry struct {
	ParticipantID string    `db:"participant_id" json:"participant_id"`
	IsTyping      bool      `db:"is_typing" json:"is_typing"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
