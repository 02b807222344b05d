package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"live-session/internal/middleware"
	"live-session/internal/models"
	"live-session/internal/observability"
	"live-session/internal/repositories"
)

// InvitationTTL is the default lifetime of a new invitation.
const InvitationTTL = 60 * time.Second

// GuestHandler manages the roster, guest roles and invitations.
type GuestHandler struct {
	Deps
}

// NewGuestHandler builds a GuestHandler.
func NewGuestHandler(deps Deps) *GuestHandler {
	return &GuestHandler{Deps: deps.withDefaults()}
}

type joinRequest struct {
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
}

// JoinSession adds the caller to the roster. Only the first joiner may claim host.
func (h *GuestHandler) JoinSession(c *gin.Context) {
	userID := middleware.ParticipantID(c)
	sessionID := c.Param("session_id")

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleListener
	}
	if req.Role != models.RoleHost && req.Role != models.RoleListener {
		c.JSON(http.StatusBadRequest, gin.H{"error": "join role must be host or listener"})
		return
	}

	if existing, err := h.Participants.GetParticipant(c.Request.Context(), sessionID, userID); err == nil {
		c.JSON(http.StatusOK, existing)
		return
	} else if !errors.Is(err, repositories.ErrParticipantNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify participant"})
		return
	}

	if req.Role == models.RoleHost {
		roster, err := h.Participants.ListParticipants(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
			return
		}
		for _, p := range roster {
			if p.Role == models.RoleHost {
				c.JSON(http.StatusConflict, gin.H{"error": "session already has a host"})
				return
			}
		}
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = userID
	}
	p, err := h.Participants.JoinSession(c.Request.Context(), sessionID, userID, name, req.Role)
	if err != nil {
		h.Logger.Error("join session", zap.String("session_id", sessionID), zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join session"})
		return
	}

	h.broadcast(c, models.FeedEvent{Type: models.EventParticipantUpdated, Participant: &p})
	h.audit(c, "participant joined", map[string]string{"role": string(p.Role)})
	c.JSON(http.StatusCreated, p)
}

// ListParticipants returns the roster.
func (h *GuestHandler) ListParticipants(c *gin.Context) {
	if _, ok := requireParticipant(c, h.Participants); !ok {
		return
	}
	list, err := h.Participants.ListParticipants(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	if list == nil {
		list = []models.Participant{}
	}
	c.JSON(http.StatusOK, gin.H{"participants": list})
}

// UpdateRole changes a participant's role. The host may change anyone; a
// participant may step down to listener, or take the co-host slot an
// accepted invitation granted them.
func (h *GuestHandler) UpdateRole(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	targetID := c.Param("user_id")

	var req struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Role.Valid() || req.Role == models.RoleHost {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	target, err := h.Participants.GetParticipant(c.Request.Context(), sessionID, targetID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participant"})
		return
	}
	if target.Role == models.RoleHost {
		c.JSON(http.StatusForbidden, gin.H{"error": "host role cannot change"})
		return
	}

	if !h.mayChangeRole(c, caller, target, req.Role) {
		return
	}

	updated, err := h.Participants.UpdateRole(c.Request.Context(), sessionID, targetID, req.Role, h.MaxGuests)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrGuestCapacity):
			c.JSON(http.StatusConflict, gin.H{"error": "guest slots are full"})
		case errors.Is(err, repositories.ErrParticipantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		default:
			h.Logger.Error("update role", zap.String("session_id", sessionID), zap.String("user_id", targetID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role"})
		}
		return
	}

	if signal := h.Media.RoleChanged(c.Request.Context(), sessionID, targetID, target.Role, updated.Role); signal != "" {
		observability.IncMediaSignal(signal)
	}
	h.broadcast(c, models.FeedEvent{Type: models.EventParticipantUpdated, Participant: &updated})
	h.audit(c, "participant role changed", map[string]string{
		"target_user_id": targetID,
		"from":           string(target.Role),
		"to":             string(updated.Role),
	})
	c.JSON(http.StatusOK, updated)
}

func (h *GuestHandler) mayChangeRole(c *gin.Context, caller, target models.Participant, role models.Role) bool {
	if caller.Role == models.RoleHost {
		return true
	}
	if caller.UserID != target.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host can change other roles"})
		return false
	}
	switch role {
	case models.RoleListener:
		return true
	case models.RoleCoHost:
		inv, err := h.Invitations.FindAccepted(c.Request.Context(), target.SessionID, target.UserID)
		if errors.Is(err, repositories.ErrInvitationNotFound) || (err == nil && inv.UpdatedAt.Before(target.UpdatedAt)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "no accepted invitation"})
			return false
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify invitation"})
			return false
		}
		return true
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "role change not allowed"})
		return false
	}
}

type createInvitationRequest struct {
	InviteeID    string                `json:"invitee_id"`
	Kind         models.InvitationKind `json:"kind"`
	SessionTitle string                `json:"session_title"`
	ExpiresAt    *time.Time            `json:"expires_at"`
}

// CreateInvitation stores a host invitation or a viewer join request.
func (h *GuestHandler) CreateInvitation(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindInvite
	}

	roster, err := h.Participants.ListParticipants(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	var hostID string
	coHosts := 0
	byUser := make(map[string]models.Participant, len(roster))
	for _, p := range roster {
		byUser[p.UserID] = p
		switch p.Role {
		case models.RoleHost:
			hostID = p.UserID
		case models.RoleCoHost:
			coHosts++
		}
	}

	inv := models.Invitation{
		SessionID:    sessionID,
		InviterID:    caller.UserID,
		Kind:         req.Kind,
		SessionTitle: req.SessionTitle,
	}
	switch req.Kind {
	case models.KindInvite:
		if caller.Role != models.RoleHost {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the host can invite"})
			return
		}
		invitee, found := byUser[req.InviteeID]
		if !found || req.InviteeID == caller.UserID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invitee"})
			return
		}
		if invitee.Role == models.RoleCoHost {
			c.JSON(http.StatusConflict, gin.H{"error": "invitee is already a co-host"})
			return
		}
		inv.InviteeID = req.InviteeID
	case models.KindRequest:
		if caller.Role == models.RoleHost || caller.Role == models.RoleCoHost {
			c.JSON(http.StatusConflict, gin.H{"error": "already on air"})
			return
		}
		if hostID == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "session has no host"})
			return
		}
		inv.InviteeID = hostID
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invitation kind"})
		return
	}
	if coHosts >= h.MaxGuests {
		c.JSON(http.StatusConflict, gin.H{"error": "guest slots are full"})
		return
	}

	pending, err := h.Invitations.ListPending(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invitations"})
		return
	}
	for _, p := range pending {
		if p.GuestID() == inv.GuestID() {
			c.JSON(http.StatusConflict, gin.H{"error": "a pending invitation already exists"})
			return
		}
	}

	now := h.Now().UTC()
	inv.ExpiresAt = now.Add(InvitationTTL)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
			return
		}
		inv.ExpiresAt = req.ExpiresAt.UTC()
	}

	created, err := h.Invitations.CreateInvitation(ctx, inv)
	if err != nil {
		h.Logger.Error("create invitation", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create invitation"})
		return
	}

	h.broadcast(c, models.FeedEvent{Type: models.EventInvitationCreated, Invitation: &created})
	h.audit(c, "invitation created", map[string]string{
		"invitation_id": created.ID,
		"kind":          string(created.Kind),
		"invitee_id":    created.InviteeID,
	})
	c.JSON(http.StatusCreated, created)
}

// ListInvitations returns the session's live pending invitations.
func (h *GuestHandler) ListInvitations(c *gin.Context) {
	if _, ok := requireParticipant(c, h.Participants); !ok {
		return
	}
	list, err := h.Invitations.ListPending(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invitations"})
		return
	}
	if list == nil {
		list = []models.Invitation{}
	}
	c.JSON(http.StatusOK, gin.H{"invitations": list})
}

type transitionRequest struct {
	From models.InvitationStatus `json:"from" binding:"required"`
	To   models.InvitationStatus `json:"to" binding:"required"`
}

// UpdateInvitation applies a conditional status transition. Only the
// invitee answers; either party may record expiry.
func (h *GuestHandler) UpdateInvitation(c *gin.Context) {
	caller, ok := requireParticipant(c, h.Participants)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	invitationID := c.Param("invitation_id")

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.From != models.InvitationPending || !req.To.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transition"})
		return
	}

	inv, err := h.Invitations.GetInvitation(c.Request.Context(), sessionID, invitationID)
	if err != nil {
		if errors.Is(err, repositories.ErrInvitationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invitation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invitation"})
		return
	}

	switch req.To {
	case models.InvitationExpired:
		if caller.UserID != inv.InviteeID && caller.UserID != inv.InviterID {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this invitation"})
			return
		}
	default:
		if caller.UserID != inv.InviteeID {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the invitee can answer"})
			return
		}
		if req.To == models.InvitationAccepted && inv.ExpiredAt(h.Now()) {
			c.JSON(http.StatusConflict, gin.H{"error": "invitation has expired"})
			return
		}
	}

	updated, err := h.Invitations.TransitionStatus(c.Request.Context(), sessionID, invitationID, req.From, req.To)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrStatusConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "invitation is no longer pending"})
		case errors.Is(err, repositories.ErrInvitationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "invitation not found"})
		default:
			h.Logger.Error("transition invitation", zap.String("invitation_id", invitationID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update invitation"})
		}
		return
	}

	observability.IncInvitationTransition(string(updated.Status))
	h.broadcast(c, models.FeedEvent{Type: models.EventInvitationUpdated, Invitation: &updated})
	h.audit(c, "invitation "+string(updated.Status), map[string]string{"invitation_id": updated.ID})
	c.JSON(http.StatusOK, updated)
}
