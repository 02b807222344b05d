// Package invitation negotiates on-air guest slots: host invitations, viewer
// join requests and the co-host roster they feed, bounded by MaxGuests.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

const (
	// TTL is the lifetime of a pending invitation or join request.
	TTL = 60 * time.Second
	// DefaultMaxGuests caps the co-host roster when the config leaves it unset.
	DefaultMaxGuests = 3

	tickInterval = time.Second
)

var (
	ErrNotHost              = errors.New("only the host can do that")
	ErrNotInvitee           = errors.New("only the invitee can answer this invitation")
	ErrNotCoHost            = errors.New("participant is not a co-host")
	ErrAlreadyCoHost        = errors.New("participant is already a co-host")
	ErrInvalidInvitee       = errors.New("invalid invitee")
	ErrAtCapacity           = errors.New("guest slots are full")
	ErrInvitationPending    = errors.New("a pending invitation already exists")
	ErrInvitationNotPending = errors.New("invitation is no longer pending")
	ErrInvitationExpired    = errors.New("invitation has expired")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrWrongKind            = errors.New("invitation kind does not match the operation")
	ErrInFlight             = errors.New("an invitation for this participant is being created")
	// ErrPromotionIncomplete means the invitation was accepted but the role
	// update failed; answering it again retries only the role update.
	ErrPromotionIncomplete = errors.New("invitation accepted but promotion did not complete")
)

// Gateway persists invitation rows and participant roles.
type Gateway interface {
	CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error)
	// UpdateInvitationStatus moves an invitation from one status to another,
	// failing when the stored status is not from.
	UpdateInvitationStatus(ctx context.Context, sessionID, invitationID string, from, to models.InvitationStatus) (models.Invitation, error)
	UpdateParticipantRole(ctx context.Context, sessionID, userID string, role models.Role) (models.Participant, error)
}

// Hooks receive negotiation side effects. All are optional and are called
// without internal locks held.
type Hooks struct {
	// OnTick reports the countdown of an invitation addressed to the local
	// participant, once per second.
	OnTick func(inv models.Invitation, remainingSeconds int)
	// OnTimeout fires once when such an invitation runs out.
	OnTimeout func(inv models.Invitation)
	// OnPromoted fires when a participant becomes a co-host; the media
	// layer starts publishing for the local participant.
	OnPromoted func(p models.Participant)
	// OnDemoted fires when a co-host loses the role.
	OnDemoted func(p models.Participant)
}

// Config identifies the session and the local participant.
type Config struct {
	SessionID    string
	SessionTitle string
	LocalUserID  string
	HostID       string
	MaxGuests    int
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithClock sets the clock used for deadlines and the countdown.
func WithClock(c clock.Clock) Option {
	return func(n *Negotiator) { n.clock = c }
}

// WithLogger sets the negotiator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Negotiator) { n.logger = logger }
}

// WithHooks installs side-effect callbacks.
func WithHooks(h Hooks) Option {
	return func(n *Negotiator) { n.hooks = h }
}

// Negotiator owns the invitations and co-host roster of one session.
type Negotiator struct {
	gw     Gateway
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
	hooks  Hooks

	mu           sync.Mutex
	invitations  map[string]*models.Invitation
	participants map[string]models.Participant
	countdowns   map[string]clock.Timer
	creating     map[string]bool
	// accepted holds invitations the gateway marked accepted whose guest
	// has not been promoted yet.
	accepted map[string]models.Invitation
	closed   bool
}

// New creates a negotiator.
func New(gw Gateway, cfg Config, opts ...Option) *Negotiator {
	if cfg.MaxGuests <= 0 {
		cfg.MaxGuests = DefaultMaxGuests
	}
	n := &Negotiator{
		gw:           gw,
		cfg:          cfg,
		clock:        clock.Real(),
		logger:       zap.NewNop(),
		invitations:  make(map[string]*models.Invitation),
		participants: make(map[string]models.Participant),
		countdowns:   make(map[string]clock.Timer),
		creating:     make(map[string]bool),
		accepted:     make(map[string]models.Invitation),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Invite offers a guest slot to inviteeID. Policy violations are reported
// before any gateway call.
func (n *Negotiator) Invite(ctx context.Context, inviteeID string) (*models.Invitation, error) {
	n.mu.Lock()
	if !n.isHostLocked() {
		n.mu.Unlock()
		return nil, ErrNotHost
	}
	if inviteeID == "" || inviteeID == n.cfg.LocalUserID {
		n.mu.Unlock()
		return nil, ErrInvalidInvitee
	}
	if err := n.checkCandidateLocked(inviteeID, models.KindInvite); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.creating[inviteeID] = true
	now := n.clock.Now()
	n.mu.Unlock()

	defer n.clearCreating(inviteeID)

	created, err := n.gw.CreateInvitation(ctx, models.Invitation{
		SessionID:    n.cfg.SessionID,
		InviterID:    n.cfg.LocalUserID,
		InviteeID:    inviteeID,
		Kind:         models.KindInvite,
		SessionTitle: n.cfg.SessionTitle,
		ExpiresAt:    now.Add(TTL),
		Status:       models.InvitationPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	n.mu.Lock()
	n.upsertLocked(created)
	n.mu.Unlock()
	return &created, nil
}

// RequestToJoin asks the host for a guest slot on behalf of the local viewer.
func (n *Negotiator) RequestToJoin(ctx context.Context) (*models.Invitation, error) {
	n.mu.Lock()
	host := n.hostIDLocked()
	if host == "" || host == n.cfg.LocalUserID {
		n.mu.Unlock()
		return nil, ErrInvalidInvitee
	}
	if err := n.checkCandidateLocked(n.cfg.LocalUserID, models.KindRequest); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.creating[n.cfg.LocalUserID] = true
	now := n.clock.Now()
	n.mu.Unlock()

	defer n.clearCreating(n.cfg.LocalUserID)

	created, err := n.gw.CreateInvitation(ctx, models.Invitation{
		SessionID:    n.cfg.SessionID,
		InviterID:    n.cfg.LocalUserID,
		InviteeID:    host,
		Kind:         models.KindRequest,
		SessionTitle: n.cfg.SessionTitle,
		ExpiresAt:    now.Add(TTL),
		Status:       models.InvitationPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create join request: %w", err)
	}

	n.mu.Lock()
	n.upsertLocked(created)
	n.mu.Unlock()
	return &created, nil
}

// Accept takes the guest slot offered by invitationID.
func (n *Negotiator) Accept(ctx context.Context, invitationID string) (*models.Participant, error) {
	n.mu.Lock()
	inv, acceptedOnly, err := n.answerableLocked(invitationID, models.KindInvite)
	if err == nil && !acceptedOnly && n.coHostCountLocked() >= n.cfg.MaxGuests {
		err = ErrAtCapacity
	}
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return n.promote(ctx, inv, acceptedOnly)
}

// Reject declines the invitation.
func (n *Negotiator) Reject(ctx context.Context, invitationID string) error {
	n.mu.Lock()
	inv, acceptedOnly, err := n.answerableLocked(invitationID, models.KindInvite)
	if err == nil && acceptedOnly {
		err = ErrInvitationNotPending
	}
	n.mu.Unlock()
	if err != nil {
		return err
	}
	return n.decline(ctx, inv)
}

// ApproveRequest grants a viewer's join request.
func (n *Negotiator) ApproveRequest(ctx context.Context, invitationID string) (*models.Participant, error) {
	n.mu.Lock()
	var inv models.Invitation
	var acceptedOnly bool
	err := ErrNotHost
	if n.isHostLocked() {
		inv, acceptedOnly, err = n.answerableLocked(invitationID, models.KindRequest)
	}
	if err == nil && !acceptedOnly && n.coHostCountLocked() >= n.cfg.MaxGuests {
		err = ErrAtCapacity
	}
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return n.promote(ctx, inv, acceptedOnly)
}

// RejectRequest declines a viewer's join request.
func (n *Negotiator) RejectRequest(ctx context.Context, invitationID string) error {
	n.mu.Lock()
	var inv models.Invitation
	var acceptedOnly bool
	err := ErrNotHost
	if n.isHostLocked() {
		inv, acceptedOnly, err = n.answerableLocked(invitationID, models.KindRequest)
	}
	if err == nil && acceptedOnly {
		err = ErrInvitationNotPending
	}
	n.mu.Unlock()
	if err != nil {
		return err
	}
	return n.decline(ctx, inv)
}

// EndGuest returns a co-host to the audience.
func (n *Negotiator) EndGuest(ctx context.Context, userID string) error {
	n.mu.Lock()
	isHost := n.isHostLocked()
	n.mu.Unlock()
	if !isHost {
		return ErrNotHost
	}
	return n.demote(ctx, userID)
}

// Leave steps the local co-host down.
func (n *Negotiator) Leave(ctx context.Context) error {
	n.mu.Lock()
	p, ok := n.participants[n.cfg.LocalUserID]
	n.mu.Unlock()
	if !ok || p.Role != models.RoleCoHost {
		return ErrNotCoHost
	}
	return n.demote(ctx, n.cfg.LocalUserID)
}

// Apply reconciles an invitation or participant row pushed by the feed.
func (n *Negotiator) Apply(ev models.FeedEvent) {
	switch {
	case ev.Invitation != nil:
		n.mu.Lock()
		if held, ok := n.invitations[ev.Invitation.ID]; ok && held.Status.Terminal() && !ev.Invitation.Status.Terminal() {
			n.mu.Unlock()
			return
		}
		n.upsertLocked(*ev.Invitation)
		n.mu.Unlock()
	case ev.Participant != nil:
		n.applyParticipant(*ev.Participant)
	}
}

// SetParticipants seeds the roster from a full participant listing.
func (n *Negotiator) SetParticipants(list []models.Participant) {
	for _, p := range list {
		n.applyParticipant(p)
	}
}

// SetInvitations seeds invitations, e.g. pending ones loaded at open.
func (n *Negotiator) SetInvitations(list []models.Invitation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, inv := range list {
		n.upsertLocked(inv)
	}
}

// Invitation returns a snapshot of the invitation.
func (n *Negotiator) Invitation(id string) (models.Invitation, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inv, ok := n.invitations[id]
	if !ok {
		return models.Invitation{}, false
	}
	return *inv, true
}

// Pending lists invitations and requests that are still open, oldest first.
func (n *Negotiator) Pending() []models.Invitation {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.clock.Now()
	var out []models.Invitation
	for _, inv := range n.invitations {
		if inv.Status == models.InvitationPending && !inv.ExpiredAt(now) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Remaining returns the whole seconds left on an invitation.
func (n *Negotiator) Remaining(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	inv, ok := n.invitations[id]
	if !ok || inv.Status != models.InvitationPending {
		return 0
	}
	return remainingSeconds(inv.ExpiresAt, n.clock.Now())
}

// CoHosts lists the current co-hosts ordered by user id.
func (n *Negotiator) CoHosts() []models.Participant {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Participant
	for _, p := range n.participants {
		if p.Role == models.RoleCoHost {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Participant returns the known participant row for userID.
func (n *Negotiator) Participant(userID string) (models.Participant, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.participants[userID]
	return p, ok
}

// MaxGuests returns the roster ceiling.
func (n *Negotiator) MaxGuests() int { return n.cfg.MaxGuests }

// Close stops every countdown.
func (n *Negotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, timer := range n.countdowns {
		timer.Stop()
		delete(n.countdowns, id)
	}
}

// promote accepts inv and makes its guest a co-host. The accepted row is
// stored locally only once the role update succeeds; until then the
// invitation stays answerable so the role update can be retried.
func (n *Negotiator) promote(ctx context.Context, inv models.Invitation, acceptedOnly bool) (*models.Participant, error) {
	if !acceptedOnly {
		updated, err := n.gw.UpdateInvitationStatus(ctx, n.cfg.SessionID, inv.ID, models.InvitationPending, models.InvitationAccepted)
		if err != nil {
			return nil, fmt.Errorf("accept invitation: %w", err)
		}
		inv = updated
		n.mu.Lock()
		n.accepted[inv.ID] = inv
		n.stopCountdownLocked(inv.ID)
		n.mu.Unlock()
	}

	p, err := n.gw.UpdateParticipantRole(ctx, n.cfg.SessionID, inv.GuestID(), models.RoleCoHost)
	if err != nil {
		n.logger.Warn("promotion incomplete",
			zap.String("session_id", n.cfg.SessionID),
			zap.String("invitation_id", inv.ID),
			zap.Error(err))
		return nil, fmt.Errorf("promote guest: %w: %w", ErrPromotionIncomplete, err)
	}

	n.mu.Lock()
	delete(n.accepted, inv.ID)
	n.upsertLocked(inv)
	n.mu.Unlock()
	n.applyParticipant(p)
	return &p, nil
}

func (n *Negotiator) decline(ctx context.Context, inv models.Invitation) error {
	updated, err := n.gw.UpdateInvitationStatus(ctx, n.cfg.SessionID, inv.ID, models.InvitationPending, models.InvitationRejected)
	if err != nil {
		return fmt.Errorf("reject invitation: %w", err)
	}
	n.mu.Lock()
	n.upsertLocked(updated)
	n.mu.Unlock()
	return nil
}

func (n *Negotiator) demote(ctx context.Context, userID string) error {
	p, err := n.gw.UpdateParticipantRole(ctx, n.cfg.SessionID, userID, models.RoleListener)
	if err != nil {
		return fmt.Errorf("demote guest: %w", err)
	}
	n.applyParticipant(p)
	return nil
}

func (n *Negotiator) applyParticipant(p models.Participant) {
	n.mu.Lock()
	prev, known := n.participants[p.UserID]
	wasCoHost := known && prev.Role == models.RoleCoHost
	if p.Role == models.RoleCoHost && !wasCoHost && n.coHostCountLocked() >= n.cfg.MaxGuests {
		n.mu.Unlock()
		n.logger.Warn("ignoring promotion beyond guest capacity",
			zap.String("session_id", n.cfg.SessionID),
			zap.String("user_id", p.UserID),
			zap.Int("max_guests", n.cfg.MaxGuests))
		return
	}
	if known && prev.UpdatedAt.After(p.UpdatedAt) {
		n.mu.Unlock()
		return
	}
	n.participants[p.UserID] = p
	if p.Role == models.RoleCoHost {
		for id, inv := range n.accepted {
			if inv.GuestID() == p.UserID {
				delete(n.accepted, id)
				n.upsertLocked(inv)
			}
		}
	}
	hooks := n.hooks
	n.mu.Unlock()

	switch {
	case p.Role == models.RoleCoHost && !wasCoHost && hooks.OnPromoted != nil:
		hooks.OnPromoted(p)
	case wasCoHost && p.Role != models.RoleCoHost && hooks.OnDemoted != nil:
		hooks.OnDemoted(p)
	}
}

// answerableLocked returns a copy of a pending, unexpired invitation of kind
// addressed to the local participant. acceptedOnly reports an invitation
// already accepted on the gateway whose guest still awaits the co-host role.
func (n *Negotiator) answerableLocked(id string, kind models.InvitationKind) (inv models.Invitation, acceptedOnly bool, err error) {
	held, ok := n.invitations[id]
	if !ok {
		return models.Invitation{}, false, ErrInvitationNotFound
	}
	if held.Kind != kind {
		return models.Invitation{}, false, ErrWrongKind
	}
	if held.InviteeID != n.cfg.LocalUserID {
		return models.Invitation{}, false, ErrNotInvitee
	}
	if a, ok := n.accepted[id]; ok {
		return a, true, nil
	}
	if held.Status != models.InvitationPending {
		return models.Invitation{}, false, ErrInvitationNotPending
	}
	if held.ExpiredAt(n.clock.Now()) {
		return models.Invitation{}, false, ErrInvitationExpired
	}
	return *held, false, nil
}

func (n *Negotiator) checkCandidateLocked(guestID string, kind models.InvitationKind) error {
	if p, ok := n.participants[guestID]; ok && p.Role == models.RoleCoHost {
		return ErrAlreadyCoHost
	}
	if n.coHostCountLocked() >= n.cfg.MaxGuests {
		return ErrAtCapacity
	}
	if n.creating[guestID] {
		return ErrInFlight
	}
	now := n.clock.Now()
	for _, inv := range n.invitations {
		if inv.Kind == kind && inv.GuestID() == guestID && inv.Status == models.InvitationPending && !inv.ExpiredAt(now) {
			return ErrInvitationPending
		}
	}
	return nil
}

func (n *Negotiator) clearCreating(guestID string) {
	n.mu.Lock()
	delete(n.creating, guestID)
	n.mu.Unlock()
}

func (n *Negotiator) isHostLocked() bool {
	return n.cfg.LocalUserID != "" && n.hostIDLocked() == n.cfg.LocalUserID
}

func (n *Negotiator) hostIDLocked() string {
	if n.cfg.HostID != "" {
		return n.cfg.HostID
	}
	for _, p := range n.participants {
		if p.Role == models.RoleHost {
			return p.UserID
		}
	}
	return ""
}

func (n *Negotiator) coHostCountLocked() int {
	count := 0
	for _, p := range n.participants {
		if p.Role == models.RoleCoHost {
			count++
		}
	}
	return count
}

// upsertLocked stores inv and keeps the countdown in step with its status.
func (n *Negotiator) upsertLocked(inv models.Invitation) {
	stored := inv
	n.invitations[inv.ID] = &stored

	if inv.Status != models.InvitationPending {
		n.stopCountdownLocked(inv.ID)
		return
	}
	if _, ok := n.accepted[inv.ID]; ok {
		return
	}
	if inv.InviteeID != n.cfg.LocalUserID || n.closed {
		return
	}
	if _, running := n.countdowns[inv.ID]; running {
		return
	}
	id := inv.ID
	n.countdowns[id] = n.clock.AfterFunc(tickInterval, func() { n.tick(id) })
}

func (n *Negotiator) stopCountdownLocked(id string) {
	if timer, ok := n.countdowns[id]; ok {
		timer.Stop()
		delete(n.countdowns, id)
	}
}

func (n *Negotiator) tick(id string) {
	n.mu.Lock()
	if _, running := n.countdowns[id]; !running || n.closed {
		n.mu.Unlock()
		return
	}
	inv, ok := n.invitations[id]
	if !ok || inv.Status != models.InvitationPending {
		delete(n.countdowns, id)
		n.mu.Unlock()
		return
	}
	now := n.clock.Now()
	remaining := remainingSeconds(inv.ExpiresAt, now)
	if remaining > 0 {
		n.countdowns[id] = n.clock.AfterFunc(tickInterval, func() { n.tick(id) })
		snapshot := *inv
		hooks := n.hooks
		n.mu.Unlock()
		if hooks.OnTick != nil {
			hooks.OnTick(snapshot, remaining)
		}
		return
	}

	inv.Status = models.InvitationExpired
	inv.UpdatedAt = now
	delete(n.countdowns, id)
	snapshot := *inv
	hooks := n.hooks
	n.mu.Unlock()

	if hooks.OnTick != nil {
		hooks.OnTick(snapshot, 0)
	}
	if hooks.OnTimeout != nil {
		hooks.OnTimeout(snapshot)
	}

	if _, err := n.gw.UpdateInvitationStatus(context.Background(), n.cfg.SessionID, id, models.InvitationPending, models.InvitationExpired); err != nil {
		n.logger.Info("expire invitation not persisted",
			zap.String("session_id", n.cfg.SessionID),
			zap.String("invitation_id", id),
			zap.Error(err))
	}
}

func remainingSeconds(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}
