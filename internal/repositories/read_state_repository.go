package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"live-session/internal/models"
)

// ReadStateRepository tracks per-participant unread counters.
type ReadStateRepository interface {
	GetReadState(ctx context.Context, sessionID, participantID string) (models.ReadState, error)
	MarkRead(ctx context.Context, sessionID, participantID string, at time.Time) (models.ReadState, error)
	// IncrementUnread bumps the counter of every participant except the sender.
	IncrementUnread(ctx context.Context, sessionID, senderID string) error
}

// ReadStateRepo is a sqlx implementation of ReadStateRepository.
type ReadStateRepo struct {
	db *sqlx.DB
}

// NewReadStateRepo constructs a ReadStateRepo.
func NewReadStateRepo(db *sqlx.DB) *ReadStateRepo {
	return &ReadStateRepo{db: db}
}

// GetReadState returns the participant's read state, zero when none exists.
func (r *ReadStateRepo) GetReadState(ctx context.Context, sessionID, participantID string) (models.ReadState, error) {
	var state models.ReadState
	err := r.db.GetContext(ctx, &state, `SELECT session_id, participant_id, unread_count, last_read_at
        FROM read_states WHERE session_id=$1 AND participant_id=$2`, sessionID, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReadState{SessionID: sessionID, ParticipantID: participantID}, nil
	}
	return state, err
}

// MarkRead zeroes the unread counter and stamps the read time.
func (r *ReadStateRepo) MarkRead(ctx context.Context, sessionID, participantID string, at time.Time) (models.ReadState, error) {
	var state models.ReadState
	err := r.db.QueryRowxContext(ctx, `INSERT INTO read_states (session_id, participant_id, unread_count, last_read_at)
        VALUES ($1, $2, 0, $3)
        ON CONFLICT (session_id, participant_id) DO UPDATE SET unread_count = 0, last_read_at = EXCLUDED.last_read_at
        RETURNING session_id, participant_id, unread_count, last_read_at`, sessionID, participantID, at).
		StructScan(&state)
	return state, err
}

// IncrementUnread bumps unread counters for the session's other participants.
func (r *ReadStateRepo) IncrementUnread(ctx context.Context, sessionID, senderID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO read_states (session_id, participant_id, unread_count)
        SELECT session_id, user_id, 1 FROM participants WHERE session_id=$1 AND user_id<>$2
        ON CONFLICT (session_id, participant_id) DO UPDATE SET unread_count = read_states.unread_count + 1`,
		sessionID, senderID)
	return err
}
