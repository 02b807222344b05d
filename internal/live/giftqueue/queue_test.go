package giftqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session/internal/live/clock"
	"live-session/internal/models"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func gift(id string) models.GiftEvent {
	return models.GiftEvent{ID: id, GiftID: "rose", SenderName: "ana", GiftValue: 1, Quantity: 1}
}

func ids(events []models.GiftEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func TestAdmissionIsFIFO(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(2), WithClock(fake))

	assert.True(t, q.Add(gift("A")))
	assert.True(t, q.Add(gift("B")))
	assert.False(t, q.Add(gift("C")))
	assert.False(t, q.Add(gift("D")))
	assert.Equal(t, []string{"A", "B"}, ids(q.Visible()))
	assert.Equal(t, []string{"C", "D"}, ids(q.Pending()))

	q.Remove("A")
	assert.Equal(t, []string{"B"}, ids(q.Visible()))

	fake.Advance(AdmitDelay - time.Millisecond)
	assert.Equal(t, []string{"B"}, ids(q.Visible()))

	fake.Advance(time.Millisecond)
	assert.Equal(t, []string{"B", "C"}, ids(q.Visible()))
	assert.Equal(t, []string{"D"}, ids(q.Pending()))
}

func TestAddWhileSlotReservedQueues(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(2), WithClock(fake))
	for _, id := range []string{"A", "B", "C"} {
		q.Add(gift(id))
	}

	q.Remove("A")
	assert.False(t, q.Add(gift("E")), "a reserved slot is not free")
	fake.Advance(AdmitDelay)

	assert.Equal(t, []string{"B", "C"}, ids(q.Visible()))
	assert.Equal(t, []string{"E"}, ids(q.Pending()))
}

func TestEachRemovalAdmitsAfterItsOwnDelay(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(3), WithClock(fake))
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		q.Add(gift(id))
	}

	q.Remove("A")
	q.Remove("B")
	assert.Equal(t, []string{"D", "E"}, ids(q.Pending()))

	fake.Advance(AdmitDelay)
	assert.Equal(t, []string{"C", "D", "E"}, ids(q.Visible()))
	assert.Empty(t, q.Pending())
	assert.Equal(t, 0, fake.Pending())
}

func TestAddUsesSlotLeftFreeByAdmission(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(3), WithClock(fake))
	for _, id := range []string{"A", "B", "C", "D"} {
		q.Add(gift(id))
	}

	q.Remove("A")
	q.Remove("B")
	assert.True(t, q.Add(gift("E")))
	assert.Equal(t, []string{"C", "E"}, ids(q.Visible()))

	fake.Advance(AdmitDelay)
	assert.Equal(t, []string{"C", "E", "D"}, ids(q.Visible()))
}

func TestAddKeepsOrderBehindWaitingGifts(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(2), WithClock(fake))
	for _, id := range []string{"A", "B", "C", "D"} {
		q.Add(gift(id))
	}

	q.Remove("A")
	q.Remove("B")
	assert.False(t, q.Add(gift("E")))

	fake.Advance(AdmitDelay)
	assert.Equal(t, []string{"C", "D"}, ids(q.Visible()))
	assert.Equal(t, []string{"E"}, ids(q.Pending()))
}

func TestRemoveAdmittingGiftReservesNextHead(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(1), WithClock(fake))
	for _, id := range []string{"A", "B", "C"} {
		q.Add(gift(id))
	}

	q.Remove("A")
	fake.Advance(AdmitDelay / 2)
	q.Remove("B")
	assert.Equal(t, []string{"C"}, ids(q.Pending()))

	fake.Advance(AdmitDelay / 2)
	assert.Empty(t, q.Visible())
	fake.Advance(AdmitDelay / 2)
	assert.Equal(t, []string{"C"}, ids(q.Visible()))
}

func TestVisibleNeverExceedsLimit(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithClock(fake))
	for i := 0; i < 20; i++ {
		q.Add(gift(string(rune('a' + i))))
		if i%3 == 0 {
			q.Remove(q.Visible()[0].ID)
		}
		fake.Advance(50 * time.Millisecond)
		require.LessOrEqual(t, len(q.Visible()), DefaultMaxVisible)
	}
}

func TestRemoveQueuedAndUnknown(t *testing.T) {
	fake := clock.NewFake(start)
	q := New(WithMaxVisible(1), WithClock(fake))
	q.Add(gift("A"))
	q.Add(gift("B"))
	q.Add(gift("C"))

	q.Remove("B")
	q.Remove("nope")
	assert.Equal(t, []string{"A"}, ids(q.Visible()))
	assert.Equal(t, []string{"C"}, ids(q.Pending()))

	q.Remove("A")
	q.Remove("C")
	fake.Advance(time.Second)
	assert.Empty(t, q.Visible())
	assert.Empty(t, q.Pending())
	assert.Equal(t, 0, fake.Pending())
}

func TestAddIgnoresDuplicates(t *testing.T) {
	q := New(WithMaxVisible(1), WithClock(clock.NewFake(start)))
	q.Add(gift("A"))
	q.Add(gift("B"))

	assert.False(t, q.Add(gift("A")))
	assert.False(t, q.Add(gift("B")))
	assert.Len(t, q.Visible(), 1)
	assert.Len(t, q.Pending(), 1)
}

func TestOnAdmitCalledPerGift(t *testing.T) {
	fake := clock.NewFake(start)
	var admitted []string
	q := New(WithMaxVisible(1), WithClock(fake), WithOnAdmit(func(ev models.GiftEvent) {
		admitted = append(admitted, ev.ID)
	}))

	q.Add(gift("A"))
	q.Add(gift("B"))
	q.Remove("A")
	fake.Advance(AdmitDelay)

	assert.Equal(t, []string{"A", "B"}, admitted)
}

func TestCloseCancelsAdmission(t *testing.T) {
	fake := clock.NewFake(start)
	var admitted int
	q := New(WithMaxVisible(1), WithClock(fake), WithOnAdmit(func(models.GiftEvent) { admitted++ }))
	q.Add(gift("A"))
	q.Add(gift("B"))
	q.Remove("A")

	q.Close()
	fake.Advance(time.Second)

	assert.Equal(t, 1, admitted)
	assert.Empty(t, q.Visible())
	assert.False(t, q.Add(gift("C")))
}
