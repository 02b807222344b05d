package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"live-session/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can delete the message")
)

const messageColumns = `id, conversation_id, sender_id, content, content_type, media_url, media_metadata, reply_to_id, is_deleted, created_at`

// MessageRepository defines interactions for session messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	// ListMessagesBefore returns up to limit messages older than before,
	// newest first. A nil before starts from the latest message.
	ListMessagesBefore(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, conversationID, messageID, senderID string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the committed row.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = models.ContentText
	}
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, content_type, media_url, media_metadata, reply_to_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		uuid.NewString(), msg.ConversationID, msg.SenderID, msg.Content, contentType, msg.MediaURL, msg.MediaMetadata, msg.ReplyToID).
		StructScan(&out)
	return out, err
}

// ListMessagesBefore returns one history page, newest first.
func (r *MessageRepo) ListMessagesBefore(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	if before == nil {
		err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1
            ORDER BY created_at DESC, id DESC
            LIMIT $2`, conversationID, limit)
		return msgs, err
	}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND created_at < $2
        ORDER BY created_at DESC, id DESC
        LIMIT $3`, conversationID, *before, limit)
	return msgs, err
}

// GetMessage retrieves a single message of the conversation.
func (r *MessageRepo) GetMessage(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND conversation_id=$2`, messageID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDeleteMessage marks a message deleted. Only its sender may do so.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, conversationID, messageID, senderID string) (models.Message, error) {
	msg, err := r.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != senderID {
		return models.Message{}, ErrNotSender
	}

	var out models.Message
	err = r.db.QueryRowxContext(ctx, `UPDATE messages SET is_deleted = TRUE
        WHERE id=$1 AND conversation_id=$2 AND sender_id=$3
        RETURNING `+messageColumns, messageID, conversationID, senderID).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return out, err
}
