package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"live-session/internal/middleware"
	"live-session/internal/mocks"
	"live-session/internal/models"
	"live-session/internal/repositories"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := hub.AddClient("s1", nil, ConnInfo{ConnID: "c1"})
	assert.Equal(t, 1, hub.RoomSize("s1"))
	assert.Len(t, hub.rooms, 1)

	hub.RemoveClient("s1", client)
	assert.Equal(t, 0, hub.RoomSize("s1"))
	assert.Empty(t, hub.rooms)
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	assert.NotPanics(t, func() {
		hub.Broadcast(context.Background(), models.FeedEvent{Type: models.EventTypingUpdated, SessionID: "empty"})
	})
}

func setupFeedServer(t *testing.T, participants *mocks.ParticipantRepositoryMock) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop())
	handler := NewFeedHandler(hub, participants, zap.NewNop())

	r := gin.New()
	r.GET("/ws/sessions/:session_id", middleware.ParticipantMiddleware(), handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestFeedDeliversBroadcasts(t *testing.T) {
	participants := new(mocks.ParticipantRepositoryMock)
	participants.On("GetParticipant", mock.Anything, "s1", "ana").Return(models.Participant{UserID: "ana", SessionID: "s1"}, nil).Once()
	hub, srv := setupFeedServer(t, participants)

	header := http.Header{}
	header.Set("X-Participant-ID", "ana")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/sessions/s1"), header)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.RoomSize("s1") == 1 }, time.Second, 5*time.Millisecond)

	msg := models.Message{ID: "m1", ConversationID: "s1", SenderID: "bob", Content: "hi", ContentType: models.ContentText}
	hub.Broadcast(context.Background(), models.FeedEvent{Type: models.EventMessageInserted, SessionID: "s1", Message: &msg})
	hub.Broadcast(context.Background(), models.FeedEvent{Type: models.EventMessageInserted, SessionID: "other", Message: &msg})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.FeedEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventMessageInserted, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m1", ev.Message.ID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.RoomSize("s1") == 0 }, time.Second, 5*time.Millisecond)
	participants.AssertExpectations(t)
}

func TestFeedRejectsNonParticipant(t *testing.T) {
	participants := new(mocks.ParticipantRepositoryMock)
	participants.On("GetParticipant", mock.Anything, "s1", "eve").Return(nil, repositories.ErrParticipantNotFound).Once()
	_, srv := setupFeedServer(t, participants)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/sessions/s1?participant_id=eve"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	participants.AssertExpectations(t)
}

func TestFeedRequiresIdentity(t *testing.T) {
	_, srv := setupFeedServer(t, new(mocks.ParticipantRepositoryMock))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/sessions/s1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
