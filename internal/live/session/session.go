// Package session wires the message stream, typing channel, invitation
// negotiator and gift presenter of one live session to its change feed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"live-session/internal/live/clock"
	"live-session/internal/live/giftqueue"
	"live-session/internal/live/invitation"
	"live-session/internal/live/messagestream"
	"live-session/internal/live/typing"
	"live-session/internal/models"
)

var (
	ErrNoSession = errors.New("no session id")
	ErrClosed    = errors.New("session is closed")
)

// Subscription is an open change feed.
type Subscription interface {
	Events() <-chan models.FeedEvent
	Close() error
}

// Gateway is everything a session needs from the backend.
type Gateway interface {
	messagestream.Gateway
	typing.Gateway
	invitation.Gateway
	ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error)
	// ListInvitations returns the pending invitations of the session.
	ListInvitations(ctx context.Context, sessionID string) ([]models.Invitation, error)
	GetReadState(ctx context.Context, sessionID string) (models.ReadState, error)
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Options describe the session and the local participant.
type Options struct {
	SessionID       string
	SessionTitle    string
	LocalUserID     string
	HostID          string
	MaxGuests       int
	MaxVisibleGifts int

	Clock  clock.Clock
	Logger *zap.Logger

	InvitationHooks invitation.Hooks
	GiftHooks       giftqueue.PresenterHooks
	OnTyping        func([]models.TypingEntry)
}

// Session is one open live session.
type Session struct {
	Messages    *messagestream.Store
	Typing      *typing.Channel
	Invitations *invitation.Negotiator
	Gifts       *giftqueue.Presenter

	id     string
	sub    Subscription
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open subscribes to the feed, loads the initial state and starts routing
// feed events. Events that arrive during the initial load are applied after
// it; duplicates are dropped by the stores.
func Open(ctx context.Context, gw Gateway, opts Options) (*Session, error) {
	if opts.SessionID == "" {
		return nil, ErrNoSession
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("session_id", opts.SessionID))

	s := &Session{
		id:     opts.SessionID,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.Gifts = giftqueue.NewPresenter(opts.GiftHooks,
		giftqueue.WithMaxVisible(opts.MaxVisibleGifts),
		giftqueue.WithClock(opts.Clock),
		giftqueue.WithLogger(logger))
	s.Messages = messagestream.New(gw, opts.SessionID, opts.LocalUserID,
		messagestream.WithClock(opts.Clock),
		messagestream.WithLogger(logger),
		messagestream.WithGiftSink(s.Gifts.Receive))
	s.Typing = typing.New(gw, opts.SessionID, opts.LocalUserID,
		typing.WithClock(opts.Clock),
		typing.WithLogger(logger),
		typing.WithOnChange(opts.OnTyping))
	s.Invitations = invitation.New(gw, invitation.Config{
		SessionID:    opts.SessionID,
		SessionTitle: opts.SessionTitle,
		LocalUserID:  opts.LocalUserID,
		HostID:       opts.HostID,
		MaxGuests:    opts.MaxGuests,
	},
		invitation.WithClock(opts.Clock),
		invitation.WithLogger(logger),
		invitation.WithHooks(opts.InvitationHooks))

	sub, err := gw.Subscribe(ctx, opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s.sub = sub

	if err := s.load(ctx, gw); err != nil {
		_ = sub.Close()
		s.Gifts.Close()
		s.Invitations.Close()
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pump(pumpCtx)

	logger.Info("session opened", zap.Int("messages", s.Messages.Len()))
	return s, nil
}

func (s *Session) load(ctx context.Context, gw Gateway) error {
	if _, err := s.Messages.LoadOlder(ctx, nil); err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	participants, err := gw.ListParticipants(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	s.Invitations.SetParticipants(participants)

	invitations, err := gw.ListInvitations(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load invitations: %w", err)
	}
	s.Invitations.SetInvitations(invitations)

	state, err := gw.GetReadState(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load read state: %w", err)
	}
	s.Messages.SetUnread(state.UnreadCount)
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Send stops the local typing indicator and sends a message.
func (s *Session) Send(ctx context.Context, in messagestream.SendInput) (*models.Message, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if err := s.Typing.StopTyping(ctx); err != nil {
		s.logger.Warn("stop typing before send failed", zap.Error(err))
	}
	return s.Messages.Send(ctx, in)
}

// Close stops typing, cancels every timer and closes the feed. It is safe
// to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	typingErr := s.Typing.Close(ctx)
	s.Invitations.Close()
	s.Gifts.Close()
	subErr := s.sub.Close()
	<-s.done

	s.logger.Info("session closed")
	return errors.Join(typingErr, subErr)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) pump(ctx context.Context) {
	defer close(s.done)
	events := s.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("feed closed")
				return
			}
			if s.isClosed() {
				return
			}
			s.route(ctx, ev)
		}
	}
}

func (s *Session) route(ctx context.Context, ev models.FeedEvent) {
	if ev.SessionID != "" && ev.SessionID != s.id {
		return
	}
	switch ev.Type {
	case models.EventMessageInserted:
		if ev.Message != nil {
			s.Messages.AppendLive(ctx, *ev.Message)
		}
	case models.EventMessageUpdated:
		if ev.Message != nil {
			s.Messages.ApplyUpdate(*ev.Message)
		}
	case models.EventTypingUpdated:
		if ev.Typing != nil {
			s.Typing.Receive(*ev.Typing)
		}
	case models.EventInvitationCreated, models.EventInvitationUpdated, models.EventParticipantUpdated:
		s.Invitations.Apply(ev)
	default:
		s.logger.Debug("unknown feed event", zap.String("type", ev.Type))
	}
}
