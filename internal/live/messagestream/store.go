// Package messagestream keeps the ordered message window of one conversation:
// paginated history prepended at the front, the live feed appended at the back.
package messagestream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

// PageSize is the number of messages fetched per history page.
const PageSize = 10

var (
	ErrLoadInFlight       = errors.New("a history load is already in flight")
	ErrEmptyMessage       = errors.New("message has no content")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrNoConversation     = errors.New("no conversation id")
	ErrNotSender          = errors.New("only the sender can delete a message")
)

// Gateway is the slice of the backend the store talks to.
type Gateway interface {
	// ListMessagesBefore returns up to limit messages strictly older than
	// before (the most recent ones when before is nil), newest first.
	ListMessagesBefore(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Page is the result of one history load, oldest first.
type Page struct {
	Items   []models.Message
	HasMore bool
}

// SendInput describes an outgoing message.
type SendInput struct {
	Content     string
	ReplyToID   *string
	MediaURL    *string
	ContentType models.ContentType
	Metadata    models.Metadata
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used to stamp read times.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithGiftSink registers the receiver of gift messages arriving on the feed.
func WithGiftSink(sink func(models.GiftEvent)) Option {
	return func(s *Store) { s.giftSink = sink }
}

// Store is the message window of a single conversation.
type Store struct {
	gw             Gateway
	conversationID string
	localID        string
	logger         *zap.Logger
	clock          clock.Clock
	giftSink       func(models.GiftEvent)

	mu         sync.Mutex
	messages   []models.Message
	index      map[string]struct{}
	loading    bool
	unread     int
	lastReadAt time.Time
}

// New creates a store for conversationID viewed by localID.
func New(gw Gateway, conversationID, localID string, opts ...Option) *Store {
	s := &Store{
		gw:             gw,
		conversationID: conversationID,
		localID:        localID,
		logger:         zap.NewNop(),
		clock:          clock.Real(),
		index:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadOlder fetches the page strictly older than before and merges it into
// the front of the window. A nil before loads the most recent page.
func (s *Store) LoadOlder(ctx context.Context, before *time.Time) (Page, error) {
	if s.conversationID == "" {
		return Page{Items: []models.Message{}}, nil
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return Page{}, ErrLoadInFlight
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	rows, err := s.gw.ListMessagesBefore(ctx, s.conversationID, before, PageSize)
	if err != nil {
		return Page{}, fmt.Errorf("load older messages: %w", err)
	}

	items := make([]models.Message, len(rows))
	for i, row := range rows {
		items[len(rows)-1-i] = row
	}

	s.mu.Lock()
	s.mergeLocked(items)
	s.mu.Unlock()

	return Page{Items: items, HasMore: len(rows) == PageSize}, nil
}

// LoadMore loads the page preceding the oldest held message.
func (s *Store) LoadMore(ctx context.Context) (Page, error) {
	var before *time.Time
	if oldest, ok := s.Oldest(); ok {
		ts := oldest.CreatedAt
		before = &ts
	}
	return s.LoadOlder(ctx, before)
}

// AppendLive applies a message pushed by the feed. It reports whether the
// message was new.
func (s *Store) AppendLive(ctx context.Context, msg models.Message) bool {
	s.mu.Lock()
	if _, dup := s.index[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.insertLocked(msg)
	sink := s.giftSink
	s.mu.Unlock()

	if msg.ContentType == models.ContentGift && sink != nil {
		gift, err := models.GiftFromMessage(msg)
		if err != nil {
			s.logger.Warn("dropping malformed gift", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			sink(gift)
		}
	}

	if msg.SenderID != s.localID {
		if err := s.MarkRead(ctx); err != nil {
			s.logger.Warn("mark read failed", zap.String("conversation_id", s.conversationID), zap.Error(err))
		}
	}
	return true
}

// ApplyUpdate replaces a held message after an edit or soft delete.
func (s *Store) ApplyUpdate(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[msg.ID]; !ok {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			msg.CreatedAt = s.messages[i].CreatedAt
			s.messages[i] = msg
			return true
		}
	}
	return false
}

// Send round-trips a new message through the gateway. The window only
// changes once the feed echoes the insert back.
func (s *Store) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if s.conversationID == "" {
		return nil, ErrNoConversation
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = models.ContentText
	}
	if !contentType.Valid() {
		return nil, ErrInvalidContentType
	}
	if strings.TrimSpace(in.Content) == "" && in.MediaURL == nil && contentType != models.ContentGift {
		return nil, ErrEmptyMessage
	}

	msg, err := s.gw.CreateMessage(ctx, models.NewMessage{
		ConversationID: s.conversationID,
		SenderID:       s.localID,
		Content:        in.Content,
		ContentType:    contentType,
		MediaURL:       in.MediaURL,
		MediaMetadata:  in.Metadata,
		ReplyToID:      in.ReplyToID,
	})
	if err != nil {
		s.logger.Warn("send failed", zap.String("conversation_id", s.conversationID), zap.Error(err))
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// Delete soft deletes one of the local participant's messages.
func (s *Store) Delete(ctx context.Context, messageID string) error {
	if msg, ok := s.Get(messageID); ok && msg.SenderID != s.localID {
		return ErrNotSender
	}
	if err := s.gw.DeleteMessage(ctx, s.conversationID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkRead zeroes the unread counter and stamps the read time.
func (s *Store) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	s.unread = 0
	s.lastReadAt = s.clock.Now()
	s.mu.Unlock()

	if s.conversationID == "" {
		return nil
	}
	if err := s.gw.MarkRead(ctx, s.conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SetUnread seeds the unread counter from the backend read state.
func (s *Store) SetUnread(n int) {
	s.mu.Lock()
	s.unread = n
	s.mu.Unlock()
}

// Unread returns the local unread counter.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// LastReadAt returns when MarkRead last ran.
func (s *Store) LastReadAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReadAt
}

// Messages returns a copy of the window, oldest first.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of held messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Oldest returns the first message of the window.
func (s *Store) Oldest() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[0], true
}

// Get looks up a held message by id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; !ok {
		return models.Message{}, false
	}
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Replies returns the held messages replying to id, oldest first.
func (s *Store) Replies(id string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ReplyToID != nil && *m.ReplyToID == id {
			out = append(out, m)
		}
	}
	return out
}

// insertLocked appends msg at the tail, or at its ordered position when the
// feed delivers a message older than the tail.
func (s *Store) insertLocked(msg models.Message) {
	s.index[msg.ID] = struct{}{}
	n := len(s.messages)
	if n == 0 || !msg.CreatedAt.Before(s.messages[n-1].CreatedAt) {
		s.messages = append(s.messages, msg)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
}

// mergeLocked folds an oldest-first page into the window, skipping ids
// already held. Pages that end before the window starts are prepended.
func (s *Store) mergeLocked(page []models.Message) {
	fresh := make([]models.Message, 0, len(page))
	for _, m := range page {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.index[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return
	}
	if len(s.messages) == 0 || !fresh[len(fresh)-1].CreatedAt.After(s.messages[0].CreatedAt) {
		s.messages = append(fresh, s.messages...)
		return
	}

	merged := make([]models.Message, 0, len(fresh)+len(s.messages))
	i, j := 0, 0
	for i < len(fresh) && j < len(s.messages) {
		if !s.messages[j].CreatedAt.Before(fresh[i].CreatedAt) {
			merged = append(merged, fresh[i])
			i++
		} else {
			merged = append(merged, s.messages[j])
			j++
		}
	}
	merged = append(merged, fresh[i:]...)
	merged = append(merged, s.messages[j:]...)
	s.messages = merged
}
