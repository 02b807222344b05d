package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-session/internal/middleware"
	"live-session/internal/mocks"
	"live-session/internal/models"
	"live-session/internal/repositories"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	messages     *mocks.MessageRepositoryMock
	readStates   *mocks.ReadStateRepositoryMock
	typing       *mocks.TypingRepositoryMock
	participants *mocks.ParticipantRepositoryMock
	invitations  *mocks.InvitationRepositoryMock
	feed         *mocks.BroadcasterMock
	router       *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		messages:     new(mocks.MessageRepositoryMock),
		readStates:   new(mocks.ReadStateRepositoryMock),
		typing:       new(mocks.TypingRepositoryMock),
		participants: new(mocks.ParticipantRepositoryMock),
		invitations:  new(mocks.InvitationRepositoryMock),
		feed:         new(mocks.BroadcasterMock),
	}
	deps := Deps{
		Messages:     f.messages,
		ReadStates:   f.readStates,
		Typing:       f.typing,
		Participants: f.participants,
		Invitations:  f.invitations,
		Feed:         f.feed,
		MaxGuests:    2,
		Now:          func() time.Time { return fixedNow },
	}
	msgs := NewMessageHandler(deps)
	typing := NewTypingHandler(deps)
	guests := NewGuestHandler(deps)

	r := gin.New()
	g := r.Group("/sessions/:session_id", middleware.ParticipantMiddleware())
	g.GET("/messages", msgs.ListMessages)
	g.POST("/messages", msgs.PostMessage)
	g.DELETE("/messages/:message_id", msgs.DeleteMessage)
	g.GET("/read", msgs.GetReadState)
	g.POST("/read", msgs.MarkRead)
	g.PUT("/typing", typing.PutTyping)
	g.GET("/typing", typing.ListTyping)
	g.POST("/join", guests.JoinSession)
	g.GET("/participants", guests.ListParticipants)
	g.PATCH("/participants/:user_id/role", guests.UpdateRole)
	g.POST("/invitations", guests.CreateInvitation)
	g.GET("/invitations", guests.ListInvitations)
	g.PATCH("/invitations/:invitation_id", guests.UpdateInvitation)
	f.router = r

	t.Cleanup(func() {
		f.messages.AssertExpectations(t)
		f.readStates.AssertExpectations(t)
		f.typing.AssertExpectations(t)
		f.participants.AssertExpectations(t)
		f.invitations.AssertExpectations(t)
		f.feed.AssertExpectations(t)
	})
	return f
}

func (f *fixture) member(userID string, role models.Role) {
	f.participants.On("GetParticipant", mock.Anything, "s1", userID).
		Return(models.Participant{SessionID: "s1", UserID: userID, Role: role}, nil).Once()
}

func (f *fixture) do(method, path, userID, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Participant-ID", userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func feedEvent(eventType string) any {
	return mock.MatchedBy(func(ev models.FeedEvent) bool {
		return ev.Type == eventType && ev.SessionID == "s1" && ev.OccurredAt.Equal(fixedNow)
	})
}

func TestListMessagesDefaults(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.messages.On("ListMessagesBefore", mock.Anything, "s1", (*time.Time)(nil), 10).
		Return([]models.Message{{ID: "m2"}, {ID: "m1"}}, nil).Once()

	rec := f.do(http.MethodGet, "/sessions/s1/messages", "ana", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m2", resp.Messages[0].ID)
}

func TestListMessagesCursorAndLimitCap(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	cursor := time.Date(2024, 4, 30, 10, 0, 0, 500, time.UTC)
	f.messages.On("ListMessagesBefore", mock.Anything, "s1", mock.MatchedBy(func(ts *time.Time) bool {
		return ts != nil && ts.Equal(cursor)
	}), 100).Return(nil, nil).Once()

	rec := f.do(http.MethodGet, "/sessions/s1/messages?limit=500&before="+cursor.Format(time.RFC3339Nano), "ana", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestListMessagesBadQuery(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.member("ana", models.RoleListener)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/sessions/s1/messages?limit=x", "ana", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/sessions/s1/messages?before=yesterday", "ana", "").Code)
}

func TestListMessagesRequiresMembership(t *testing.T) {
	f := newFixture(t)
	f.participants.On("GetParticipant", mock.Anything, "s1", "eve").
		Return(nil, repositories.ErrParticipantNotFound).Once()

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/sessions/s1/messages", "eve", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/sessions/s1/messages", "", "").Code)
}

func TestPostMessageBroadcastsInsert(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	stored := models.Message{ID: "m9", ConversationID: "s1", SenderID: "ana", Content: "hello", ContentType: models.ContentText}
	f.messages.On("CreateMessage", mock.Anything, models.NewMessage{
		ConversationID: "s1",
		SenderID:       "ana",
		Content:        "hello",
		ContentType:    models.ContentText,
	}).Return(stored, nil).Once()
	f.readStates.On("IncrementUnread", mock.Anything, "s1", "ana").Return(nil).Once()
	f.feed.On("Broadcast", mock.Anything, feedEvent(models.EventMessageInserted)).Once()

	rec := f.do(http.MethodPost, "/sessions/s1/messages", "ana", `{"content":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "m9", got.ID)
}

func TestPostMessageUnreadFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: "m1"}, nil).Once()
	f.readStates.On("IncrementUnread", mock.Anything, "s1", "ana").Return(assert.AnError).Once()
	f.feed.On("Broadcast", mock.Anything, feedEvent(models.EventMessageInserted)).Once()

	rec := f.do(http.MethodPost, "/sessions/s1/messages", "ana", `{"content":"hi"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPostMessageValidation(t *testing.T) {
	cases := map[string]string{
		"empty":        `{"content":"   "}`,
		"bad type":     `{"content":"x","content_type":"sticker"}`,
		"invalid json": `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.member("ana", models.RoleListener)
			rec := f.do(http.MethodPost, "/sessions/s1/messages", "ana", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostGiftWithoutText(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.NewMessage) bool {
		return m.ContentType == models.ContentGift && m.MediaMetadata["gift_id"] == "rose"
	})).Return(models.Message{ID: "g1", ContentType: models.ContentGift}, nil).Once()
	f.readStates.On("IncrementUnread", mock.Anything, "s1", "ana").Return(nil).Once()
	f.feed.On("Broadcast", mock.Anything, feedEvent(models.EventMessageInserted)).Once()

	rec := f.do(http.MethodPost, "/sessions/s1/messages", "ana", `{"content_type":"gift","media_metadata":{"gift_id":"rose"}}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.messages.On("SoftDeleteMessage", mock.Anything, "s1", "m1", "ana").
		Return(models.Message{ID: "m1", IsDeleted: true}, nil).Once()
	f.feed.On("Broadcast", mock.Anything, feedEvent(models.EventMessageUpdated)).Once()

	rec := f.do(http.MethodDelete, "/sessions/s1/messages/m1", "ana", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_deleted":true`)
}

func TestDeleteMessageErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{repositories.ErrNotSender, http.StatusForbidden},
		{repositories.ErrMessageNotFound, http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.member("bob", models.RoleListener)
		f.messages.On("SoftDeleteMessage", mock.Anything, "s1", "m1", "bob").Return(nil, tc.err).Once()

		rec := f.do(http.MethodDelete, "/sessions/s1/messages/m1", "bob", "")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestReadState(t *testing.T) {
	f := newFixture(t)
	f.member("ana", models.RoleListener)
	f.member("ana", models.RoleListener)
	f.readStates.On("GetReadState", mock.Anything, "s1", "ana").
		Return(models.ReadState{SessionID: "s1", ParticipantID: "ana", UnreadCount: 4}, nil).Once()
	f.readStates.On("MarkRead", mock.Anything, "s1", "ana", fixedNow).
		Return(models.ReadState{SessionID: "s1", ParticipantID: "ana", UnreadCount: 0, LastReadAt: &fixedNow}, nil).Once()

	rec := f.do(http.MethodGet, "/sessions/s1/read", "ana", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unread_count":4`)

	rec = f.do(http.MethodPost, "/sessions/s1/read", "ana", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unread_count":0`)
}
