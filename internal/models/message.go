package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ContentType enumerates the kinds of message payloads.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
	ContentFile  ContentType = "file"
	ContentGift  ContentType = "gift"
)

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentVideo, ContentAudio, ContentFile, ContentGift:
		return true
	}
	return false
}

// Metadata holds free-form media attributes stored as JSONB.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("metadata: unsupported scan type")
	}
}

// Message represents a chat message in a live session.
type Message struct {
	ID             string      `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	SenderID       string      `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	ContentType    ContentType `db:"content_type" json:"content_type"`
	MediaURL       *string     `db:"media_url" json:"media_url,omitempty"`
	MediaMetadata  Metadata    `db:"media_metadata" json:"media_metadata,omitempty"`
	ReplyToID      *string     `db:"reply_to_id" json:"reply_to_id,omitempty"`
	IsDeleted      bool        `db:"is_deleted" json:"is_deleted"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

// NewMessage is the write shape for a message insert.
type NewMessage struct {
	ConversationID string      `json:"-"`
	SenderID       string      `json:"-"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	MediaURL       *string     `json:"media_url,omitempty"`
	MediaMetadata  Metadata    `json:"media_metadata,omitempty"`
	ReplyToID      *string     `json:"reply_to_id,omitempty"`
}

// ReadState is the per-participant read marker of a conversation.
type ReadState struct {
	SessionID     string     `db:"session_id" json:"session_id"`
	ParticipantID string     `db:"participant_id" json:"participant_id"`
	UnreadCount   int        `db:"unread_count" json:"unread_count"`
	LastReadAt    *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}
