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
	ErrInvitationNotFound = errors.New("invitation not found")
	// ErrStatusConflict means the stored status no longer matches the
	// expected source status of a transition.
	ErrStatusConflict = errors.New("invitation status changed")
)

const invitationColumns = `id, session_id, inviter_id, invitee_id, kind, session_title, expires_at, status, created_at, updated_at`

// InvitationRepository persists guest invitations and join requests.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error)
	GetInvitation(ctx context.Context, sessionID, invitationID string) (models.Invitation, error)
	ListPending(ctx context.Context, sessionID string) ([]models.Invitation, error)
	// TransitionStatus moves an invitation from one status to another and
	// fails with ErrStatusConflict when the stored status is not from.
	TransitionStatus(ctx context.Context, sessionID, invitationID string, from, to models.InvitationStatus) (models.Invitation, error)
	// FindAccepted returns the latest accepted invitation or request that
	// names guestID as the promoted user.
	FindAccepted(ctx context.Context, sessionID, guestID string) (models.Invitation, error)
}

// InvitationRepo is a sqlx implementation of InvitationRepository.
type InvitationRepo struct {
	db *sqlx.DB
}

// NewInvitationRepo constructs an InvitationRepo.
func NewInvitationRepo(db *sqlx.DB) *InvitationRepo {
	return &InvitationRepo{db: db}
}

// CreateInvitation stores a new pending invitation.
func (r *InvitationRepo) CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	var out models.Invitation
	err := r.db.QueryRowxContext(ctx, `INSERT INTO invitations (id, session_id, inviter_id, invitee_id, kind, session_title, expires_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+invitationColumns,
		inv.ID, inv.SessionID, inv.InviterID, inv.InviteeID, inv.Kind, inv.SessionTitle, inv.ExpiresAt, models.InvitationPending).
		StructScan(&out)
	return out, err
}

// GetInvitation fetches one invitation.
func (r *InvitationRepo) GetInvitation(ctx context.Context, sessionID, invitationID string) (models.Invitation, error) {
	var inv models.Invitation
	err := r.db.GetContext(ctx, &inv, `SELECT `+invitationColumns+` FROM invitations WHERE session_id=$1 AND id=$2`, sessionID, invitationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invitation{}, ErrInvitationNotFound
	}
	return inv, err
}

// ListPending returns unexpired pending invitations, soonest deadline first.
func (r *InvitationRepo) ListPending(ctx context.Context, sessionID string) ([]models.Invitation, error) {
	list := []models.Invitation{}
	err := r.db.SelectContext(ctx, &list, `SELECT `+invitationColumns+` FROM invitations
        WHERE session_id=$1 AND status=$2 AND expires_at > NOW()
        ORDER BY expires_at ASC`, sessionID, models.InvitationPending)
	return list, err
}

// TransitionStatus applies a conditional status update.
func (r *InvitationRepo) TransitionStatus(ctx context.Context, sessionID, invitationID string, from, to models.InvitationStatus) (models.Invitation, error) {
	var out models.Invitation
	err := r.db.QueryRowxContext(ctx, `UPDATE invitations SET status=$4, updated_at=NOW()
        WHERE session_id=$1 AND id=$2 AND status=$3
        RETURNING `+invitationColumns, sessionID, invitationID, from, to).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetInvitation(ctx, sessionID, invitationID); getErr != nil {
			return models.Invitation{}, getErr
		}
		return models.Invitation{}, ErrStatusConflict
	}
	return out, err
}

// FindAccepted looks up the newest accepted offer for guestID.
func (r *InvitationRepo) FindAccepted(ctx context.Context, sessionID, guestID string) (models.Invitation, error) {
	var inv models.Invitation
	err := r.db.GetContext(ctx, &inv, `SELECT `+invitationColumns+` FROM invitations
        WHERE session_id=$1 AND status=$2
          AND ((kind=$3 AND invitee_id=$4) OR (kind=$5 AND inviter_id=$4))
        ORDER BY updated_at DESC LIMIT 1`,
		sessionID, models.InvitationAccepted, models.KindInvite, guestID, models.KindRequest)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invitation{}, ErrInvitationNotFound
	}
	return inv, err
}
