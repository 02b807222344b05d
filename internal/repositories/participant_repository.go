package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"live-session/internal/models"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrGuestCapacity       = errors.New("guest slots are full")
)

const participantColumns = `id, session_id, user_id, display_name, role, is_muted, is_hand_raised, updated_at`

// ParticipantRepository abstracts the session roster.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (models.Participant, error)
	// JoinSession adds userID with role unless already present and returns the row.
	JoinSession(ctx context.Context, sessionID, userID, displayName string, role models.Role) (models.Participant, error)
	// UpdateRole changes a role. Promotion to co-host fails with
	// ErrGuestCapacity when maxGuests co-hosts already exist.
	UpdateRole(ctx context.Context, sessionID, userID string, role models.Role, maxGuests int) (models.Participant, error)
}

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// ListParticipants returns the session roster.
func (r *ParticipantRepo) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	list := []models.Participant{}
	err := r.db.SelectContext(ctx, &list, `SELECT `+participantColumns+` FROM participants WHERE session_id=$1 ORDER BY user_id`, sessionID)
	return list, err
}

// GetParticipant fetches one participant.
func (r *ParticipantRepo) GetParticipant(ctx context.Context, sessionID, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// JoinSession registers a participant.
func (r *ParticipantRepo) JoinSession(ctx context.Context, sessionID, userID, displayName string, role models.Role) (models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRowxContext(ctx, `INSERT INTO participants (id, session_id, user_id, display_name, role)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (session_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name
        RETURNING `+participantColumns, uuid.NewString(), sessionID, userID, displayName, role).StructScan(&p)
	return p, err
}

// UpdateRole changes a participant's role inside a transaction that locks
// the session's co-host rows, so concurrent promotions cannot exceed maxGuests.
func (r *ParticipantRepo) UpdateRole(ctx context.Context, sessionID, userID string, role models.Role, maxGuests int) (models.Participant, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Participant{}, err
	}
	defer tx.Rollback()

	var current models.Participant
	err = tx.GetContext(ctx, &current, `SELECT `+participantColumns+` FROM participants WHERE session_id=$1 AND user_id=$2 FOR UPDATE`, sessionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	if err != nil {
		return models.Participant{}, err
	}

	if role == models.RoleCoHost && current.Role != models.RoleCoHost {
		var coHosts []string
		if err := tx.SelectContext(ctx, &coHosts, `SELECT user_id FROM participants WHERE session_id=$1 AND role=$2 FOR UPDATE`, sessionID, models.RoleCoHost); err != nil {
			return models.Participant{}, err
		}
		if len(coHosts) >= maxGuests {
			return models.Participant{}, ErrGuestCapacity
		}
	}

	var updated models.Participant
	if err := tx.QueryRowxContext(ctx, `UPDATE participants SET role=$3, updated_at=NOW()
        WHERE session_id=$1 AND user_id=$2
        RETURNING `+participantColumns, sessionID, userID, role).StructScan(&updated); err != nil {
		return models.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Participant{}, err
	}
	return updated, nil
}
