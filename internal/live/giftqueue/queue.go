// Package giftqueue limits how many gift animations play at once. Gifts past
// the limit wait in arrival order and are admitted as slots free up.
package giftqueue

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

const (
	// DefaultMaxVisible is the number of gifts shown at once.
	DefaultMaxVisible = 3
	// AdmitDelay separates a removal from the admission of the next queued gift.
	AdmitDelay = 200 * time.Millisecond
)

// Option configures a Queue.
type Option func(*Queue)

// WithMaxVisible overrides DefaultMaxVisible.
func WithMaxVisible(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxVisible = n
		}
	}
}

// WithClock sets the clock driving the admission delay.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the queue logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithOnAdmit registers a callback run each time a gift becomes visible.
func WithOnAdmit(fn func(models.GiftEvent)) Option {
	return func(q *Queue) { q.onAdmit = fn }
}

// Queue is the admission controller of one live session.
type Queue struct {
	maxVisible int
	clock      clock.Clock
	logger     *zap.Logger
	onAdmit    func(models.GiftEvent)

	mu      sync.Mutex
	visible []models.GiftEvent
	pending []models.GiftEvent
	// admitting holds gifts whose AdmitDelay is running, one per freed
	// slot; they count against maxVisible.
	admitting []*admission
	closed    bool
}

type admission struct {
	ev    models.GiftEvent
	timer clock.Timer
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		maxVisible: DefaultMaxVisible,
		clock:      clock.Real(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add shows ev immediately when a slot is free and nothing is waiting,
// otherwise queues it. It reports whether ev became visible.
func (q *Queue) Add(ev models.GiftEvent) bool {
	q.mu.Lock()
	if q.closed || q.containsLocked(ev.ID) {
		q.mu.Unlock()
		return false
	}
	if len(q.pending) == 0 && q.usedLocked() < q.maxVisible {
		q.visible = append(q.visible, ev)
		onAdmit := q.onAdmit
		q.mu.Unlock()
		if onAdmit != nil {
			onAdmit(ev)
		}
		return true
	}
	q.pending = append(q.pending, ev)
	q.scheduleAdmitLocked()
	depth := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("gift queued", zap.String("gift_event_id", ev.ID), zap.Int("queue_depth", depth))
	return false
}

// Remove drops id from the visible set or the queue. Freeing a visible slot
// schedules the queue head. Unknown ids are ignored.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, ev := range q.visible {
		if ev.ID == id {
			q.visible = append(q.visible[:i], q.visible[i+1:]...)
			q.scheduleAdmitLocked()
			return
		}
	}
	for i, a := range q.admitting {
		if a.ev.ID == id {
			a.timer.Stop()
			q.admitting = append(q.admitting[:i], q.admitting[i+1:]...)
			q.scheduleAdmitLocked()
			return
		}
	}
	for i, ev := range q.pending {
		if ev.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Visible returns the gifts currently shown, in admission order.
func (q *Queue) Visible() []models.GiftEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.GiftEvent(nil), q.visible...)
}

// Pending returns the waiting gifts, head first, including those whose
// admission delay is running.
func (q *Queue) Pending() []models.GiftEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.GiftEvent, 0, len(q.admitting)+len(q.pending))
	for _, a := range q.admitting {
		out = append(out, a.ev)
	}
	return append(out, q.pending...)
}

// Close cancels a running admission and drops every gift.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, a := range q.admitting {
		a.timer.Stop()
	}
	q.admitting = nil
	q.visible = nil
	q.pending = nil
}

func (q *Queue) usedLocked() int {
	return len(q.visible) + len(q.admitting)
}

// scheduleAdmitLocked reserves the queue head for every free slot, each
// with its own AdmitDelay.
func (q *Queue) scheduleAdmitLocked() {
	for !q.closed && len(q.pending) > 0 && q.usedLocked() < q.maxVisible {
		a := &admission{ev: q.pending[0]}
		q.pending = q.pending[1:]
		q.admitting = append(q.admitting, a)
		a.timer = q.clock.AfterFunc(AdmitDelay, func() { q.admit(a) })
	}
}

func (q *Queue) admit(a *admission) {
	q.mu.Lock()
	idx := -1
	for i, cur := range q.admitting {
		if cur == a {
			idx = i
			break
		}
	}
	if q.closed || idx < 0 {
		q.mu.Unlock()
		return
	}
	q.admitting = append(q.admitting[:idx], q.admitting[idx+1:]...)
	ev := a.ev
	q.visible = append(q.visible, ev)
	onAdmit := q.onAdmit
	q.mu.Unlock()

	if onAdmit != nil {
		onAdmit(ev)
	}
}

func (q *Queue) containsLocked(id string) bool {
	for _, a := range q.admitting {
		if a.ev.ID == id {
			return true
		}
	}
	for _, ev := range q.visible {
		if ev.ID == id {
			return true
		}
	}
	for _, ev := range q.pending {
		if ev.ID == id {
			return true
		}
	}
	return false
}
