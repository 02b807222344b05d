package models

import "time"

// InvitationStatus is the lifecycle status of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationAccepted || s == InvitationRejected || s == InvitationExpired
}

// InvitationKind distinguishes host invitations from viewer join requests.
type InvitationKind string

const (
	KindInvite  InvitationKind = "invite"
	KindRequest InvitationKind = "request"
)

// Invitation offers an on-air guest slot. For KindRequest the inviter is the
// requesting viewer and the invitee is the host.
type Invitation struct {
	ID           string           `db:"id" json:"id"`
	SessionID    string           `db:"session_id" json:"session_id"`
	InviterID    string           `db:"inviter_id" json:"inviter_id"`
	InviteeID    string           `db:"invitee_id" json:"invitee_id"`
	Kind         InvitationKind   `db:"kind" json:"kind"`
	SessionTitle string           `db:"session_title" json:"session_title"`
	ExpiresAt    time.Time        `db:"expires_at" json:"expires_at"`
	Status       InvitationStatus `db:"status" json:"status"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// GuestID returns the user that would be promoted if the invitation is accepted.
func (i Invitation) GuestID() string {
	if i.Kind == KindRequest {
		return i.InviterID
	}
	return i.InviteeID
}

// ExpiredAt reports whether the invitation is past its deadline at now.
func (i Invitation) ExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
