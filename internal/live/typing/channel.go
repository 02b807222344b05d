// Package typing carries ephemeral "is typing" signals for one conversation.
package typing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

const (
	// DebounceWindow is how long a start signal stays valid without a
	// follow-up StartTyping call.
	DebounceWindow = 3 * time.Second
	// StaleAfter drops remote entries that stopped refreshing, e.g. a
	// participant that disconnected mid-signal.
	StaleAfter = 2 * DebounceWindow
)

// Gateway persists typing rows.
type Gateway interface {
	UpsertTyping(ctx context.Context, conversationID string, entry models.TypingEntry) error
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock sets the clock driving the debounce timer.
func WithClock(c clock.Clock) Option {
	return func(ch *Channel) { ch.clock = c }
}

// WithLogger sets the channel logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ch *Channel) { ch.logger = logger }
}

// WithOnChange registers a callback receiving the typing roster after every
// inbound change.
func WithOnChange(fn func([]models.TypingEntry)) Option {
	return func(ch *Channel) { ch.onChange = fn }
}

type remoteEntry struct {
	entry  models.TypingEntry
	seenAt time.Time
}

// Channel is the typing presence of one conversation.
type Channel struct {
	gw             Gateway
	conversationID string
	localID        string
	clock          clock.Clock
	logger         *zap.Logger
	onChange       func([]models.TypingEntry)

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  clock.Timer
	others map[string]remoteEntry
	closed bool
}

// New creates a typing channel for conversationID as localID.
func New(gw Gateway, conversationID, localID string, opts ...Option) *Channel {
	ch := &Channel{
		gw:             gw,
		conversationID: conversationID,
		localID:        localID,
		clock:          clock.Real(),
		logger:         zap.NewNop(),
		others:         make(map[string]remoteEntry),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// StartTyping publishes a typing signal and (re)arms the stop timer.
func (ch *Channel) StartTyping(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	entry := models.TypingEntry{ParticipantID: ch.localID, IsTyping: true, UpdatedAt: ch.clock.Now()}
	if err := ch.gw.UpsertTyping(ctx, ch.conversationID, entry); err != nil {
		return fmt.Errorf("start typing: %w", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.gen++
	gen := ch.gen
	ch.active = true
	ch.timer = ch.clock.AfterFunc(DebounceWindow, func() { ch.expire(gen) })
	return nil
}

// StopTyping cancels the pending timer and publishes the stop signal. It is a
// no-op when the local participant is not typing.
func (ch *Channel) StopTyping(ctx context.Context) error {
	ch.mu.Lock()
	ch.gen++
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	wasActive := ch.active
	ch.active = false
	ch.mu.Unlock()

	if !wasActive {
		return nil
	}
	entry := models.TypingEntry{ParticipantID: ch.localID, IsTyping: false, UpdatedAt: ch.clock.Now()}
	if err := ch.gw.UpsertTyping(ctx, ch.conversationID, entry); err != nil {
		return fmt.Errorf("stop typing: %w", err)
	}
	return nil
}

// IsTyping reports whether the local participant is currently typing.
func (ch *Channel) IsTyping() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.active
}

func (ch *Channel) expire(gen uint64) {
	ch.mu.Lock()
	current := gen == ch.gen && ch.active
	ch.mu.Unlock()
	if !current {
		return
	}
	if err := ch.StopTyping(context.Background()); err != nil {
		ch.logger.Warn("typing timeout stop failed", zap.String("conversation_id", ch.conversationID), zap.Error(err))
	}
}

// Receive applies a typing row pushed by the feed.
func (ch *Channel) Receive(entry models.TypingEntry) {
	if entry.ParticipantID == "" || entry.ParticipantID == ch.localID {
		return
	}

	ch.mu.Lock()
	if held, ok := ch.others[entry.ParticipantID]; ok && held.entry.UpdatedAt.After(entry.UpdatedAt) {
		ch.mu.Unlock()
		return
	}
	if entry.IsTyping {
		ch.others[entry.ParticipantID] = remoteEntry{entry: entry, seenAt: ch.clock.Now()}
	} else {
		delete(ch.others, entry.ParticipantID)
	}
	ch.pruneLocked()
	roster := ch.rosterLocked()
	onChange := ch.onChange
	ch.mu.Unlock()

	if onChange != nil {
		onChange(roster)
	}
}

// Typing returns the remote participants currently typing.
func (ch *Channel) Typing() []models.TypingEntry {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pruneLocked()
	return ch.rosterLocked()
}

// Prune drops stale remote entries and returns how many were removed.
func (ch *Channel) Prune() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pruneLocked()
}

// Close stops any local typing signal and ignores further input.
func (ch *Channel) Close(ctx context.Context) error {
	err := ch.StopTyping(ctx)
	ch.mu.Lock()
	ch.closed = true
	ch.others = make(map[string]remoteEntry)
	ch.mu.Unlock()
	return err
}

func (ch *Channel) pruneLocked() int {
	cutoff := ch.clock.Now().Add(-StaleAfter)
	removed := 0
	for id, e := range ch.others {
		if e.seenAt.Before(cutoff) {
			delete(ch.others, id)
			removed++
		}
	}
	return removed
}

func (ch *Channel) rosterLocked() []models.TypingEntry {
	out := make([]models.TypingEntry, 0, len(ch.others))
	for _, e := range ch.others {
		out = append(out, e.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
