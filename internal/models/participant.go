package models

import "time"

// Role is a participant's on-air role.
type Role string

const (
	RoleHost         Role = "host"
	RoleCoHost       Role = "co_host"
	RoleSpeaker      Role = "speaker"
	RoleListener     Role = "listener"
	RoleInvitedGuest Role = "invited_guest"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleCoHost, RoleSpeaker, RoleListener, RoleInvitedGuest:
		return true
	}
	return false
}

// Participant is a member of a live session.
type Participant struct {
	ID           string    `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Role         Role      `db:"role" json:"role"`
	IsMuted      bool      `db:"is_muted" json:"is_muted"`
	IsHandRaised bool      `db:"is_hand_raised" json:"is_hand_raised"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
