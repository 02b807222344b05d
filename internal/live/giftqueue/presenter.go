package giftqueue

import (
	"sync"
	"time"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

const (
	// DisplayDuration is how long an admitted gift stays on screen.
	DisplayDuration = 2500 * time.Millisecond
	// BurstThreshold is the total value from which a gift gets a particle burst.
	BurstThreshold = 100
)

// Presentation is one gift as it goes on screen.
type Presentation struct {
	Gift    models.GiftEvent
	Burst   bool
	ShownAt time.Time
}

// PresenterHooks are called without internal locks held.
type PresenterHooks struct {
	OnShow    func(Presentation)
	OnDismiss func(models.GiftEvent)
}

// IsHighValue reports whether ev earns a particle burst.
func IsHighValue(ev models.GiftEvent) bool {
	return ev.GiftValue*ev.Quantity >= BurstThreshold
}

// Presenter runs the on-screen lifecycle of admitted gifts and dismisses
// each one after DisplayDuration.
type Presenter struct {
	queue *Queue
	clock clock.Clock
	hooks PresenterHooks

	mu     sync.Mutex
	timers map[string]clock.Timer
	closed bool
}

// NewPresenter creates a presenter over its own Queue built from opts.
func NewPresenter(hooks PresenterHooks, opts ...Option) *Presenter {
	p := &Presenter{
		hooks:  hooks,
		timers: make(map[string]clock.Timer),
	}
	p.queue = New(append(opts, WithOnAdmit(p.show))...)
	p.clock = p.queue.clock
	return p
}

// Receive hands a new gift to the queue.
func (p *Presenter) Receive(ev models.GiftEvent) {
	p.queue.Add(ev)
}

// Dismiss ends a gift's lifecycle early, or removes it from the queue.
func (p *Presenter) Dismiss(id string) {
	p.mu.Lock()
	timer, shown := p.timers[id]
	if shown {
		timer.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()

	var gift models.GiftEvent
	if shown {
		for _, ev := range p.queue.Visible() {
			if ev.ID == id {
				gift = ev
			}
		}
	}
	p.queue.Remove(id)
	if shown && p.hooks.OnDismiss != nil {
		p.hooks.OnDismiss(gift)
	}
}

// Visible returns the gifts on screen.
func (p *Presenter) Visible() []models.GiftEvent { return p.queue.Visible() }

// Pending returns the gifts waiting for a slot.
func (p *Presenter) Pending() []models.GiftEvent { return p.queue.Pending() }

// Close stops every display timer and closes the queue.
func (p *Presenter) Close() {
	p.mu.Lock()
	p.closed = true
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()
	p.queue.Close()
}

func (p *Presenter) show(ev models.GiftEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	id := ev.ID
	p.timers[id] = p.clock.AfterFunc(DisplayDuration, func() { p.Dismiss(id) })
	p.mu.Unlock()

	if p.hooks.OnShow != nil {
		p.hooks.OnShow(Presentation{Gift: ev, Burst: IsHighValue(ev), ShownAt: p.clock.Now()})
	}
}
