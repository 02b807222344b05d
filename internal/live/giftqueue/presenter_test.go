package giftqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

func TestPresenterAutoDismissAdmitsNext(t *testing.T) {
	fake := clock.NewFake(start)
	var shown []Presentation
	var dismissed []string
	p := NewPresenter(PresenterHooks{
		OnShow:    func(pr Presentation) { shown = append(shown, pr) },
		OnDismiss: func(ev models.GiftEvent) { dismissed = append(dismissed, ev.ID) },
	}, WithMaxVisible(1), WithClock(fake))

	p.Receive(gift("A"))
	p.Receive(gift("B"))
	require.Len(t, shown, 1)
	assert.Equal(t, start, shown[0].ShownAt)

	fake.Advance(DisplayDuration)
	assert.Equal(t, []string{"A"}, dismissed)
	assert.Empty(t, p.Visible())

	fake.Advance(AdmitDelay)
	require.Len(t, shown, 2)
	assert.Equal(t, "B", shown[1].Gift.ID)
	assert.Equal(t, start.Add(DisplayDuration+AdmitDelay), shown[1].ShownAt)

	fake.Advance(DisplayDuration)
	assert.Equal(t, []string{"A", "B"}, dismissed)
	assert.Equal(t, 0, fake.Pending())
}

func TestPresenterBurstForHighValue(t *testing.T) {
	var shown []Presentation
	p := NewPresenter(PresenterHooks{OnShow: func(pr Presentation) { shown = append(shown, pr) }},
		WithClock(clock.NewFake(start)))

	p.Receive(models.GiftEvent{ID: "cheap", GiftValue: 10, Quantity: 9})
	p.Receive(models.GiftEvent{ID: "combo", GiftValue: 20, Quantity: 5})

	require.Len(t, shown, 2)
	assert.False(t, shown[0].Burst)
	assert.True(t, shown[1].Burst)
}

func TestPresenterDismissEarly(t *testing.T) {
	fake := clock.NewFake(start)
	var dismissed int
	p := NewPresenter(PresenterHooks{OnDismiss: func(models.GiftEvent) { dismissed++ }}, WithClock(fake))

	p.Receive(gift("A"))
	p.Dismiss("A")
	fake.Advance(DisplayDuration)

	assert.Equal(t, 1, dismissed)
	assert.Equal(t, 0, fake.Pending())
}

func TestPresenterClose(t *testing.T) {
	fake := clock.NewFake(start)
	var dismissed int
	p := NewPresenter(PresenterHooks{OnDismiss: func(models.GiftEvent) { dismissed++ }}, WithClock(fake))
	p.Receive(gift("A"))

	p.Close()
	fake.Advance(time.Minute)

	assert.Zero(t, dismissed)
	assert.Empty(t, p.Visible())
}
