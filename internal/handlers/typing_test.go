package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-session/internal/models"
)

func TestPutTypingStampsServerTime(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	entry := models.TypingEntry{ParticipantID: "ana", IsTyping: true, UpdatedAt: fixedNow}
	f.typing.On("UpsertTyping", mock.Anything, "s1", entry).Return(entry, nil).Once()
	f.feed.On("Broadcast", mock.Anything, mock.MatchedBy(func(ev models.FeedEvent) bool {
		return ev.Type == models.EventTypingUpdated && ev.Typing != nil && ev.Typing.IsTyping
	})).Once()

	rec := f.do(http.MethodPut, "/sessions/s1/typing", "ana", `{"is_typing":true,"updated_at":"1999-01-01T00:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"participant_id":"ana"`)
}

func TestPutTypingRequiresFlag(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)

	rec := f.do(http.MethodPut, "/sessions/s1/typing", "ana", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutTypingStoreError(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.typing.On("UpsertTyping", mock.Anything, "s1", mock.Anything).Return(nil, assert.AnError).Once()

	rec := f.do(http.MethodPut, "/sessions/s1/typing", "ana", `{"is_typing":false}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListTyping(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.typing.On("ListTyping", mock.Anything, "s1").Return(nil, nil).Once()

	rec := f.do(http.MethodGet, "/sessions/s1/typing", "ana", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"typing":[]}`, rec.Body.String())
}
