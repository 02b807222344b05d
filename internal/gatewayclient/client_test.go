package gatewayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, ParticipantID: "ana", RetryMaxElapsed: time.Second}, nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresParticipant(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestListMessagesBefore(t *testing.T) {
	before := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/s1/messages", r.URL.Path)
		assert.Equal(t, "ana", r.Header.Get("X-Participant-ID"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, before.Format(time.RFC3339Nano), r.URL.Query().Get("before"))
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []models.Message{{ID: "m2"}, {ID: "m1"}}})
	}))

	msgs, err := c.ListMessagesBefore(context.Background(), "s1", &before, 10)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
}

func TestConflictIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"from": "pending", "to": "accepted"}, body)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"invitation is no longer pending"}`))
	}))

	_, err := c.UpdateInvitationStatus(context.Background(), "s1", "i1", models.InvitationPending, models.InvitationAccepted)

	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "no longer pending")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(models.ReadState{SessionID: "s1", UnreadCount: 3})
	}))

	state, err := c.GetReadState(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, 3, state.UnreadCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	err := c.DeleteMessage(context.Background(), "s1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertTypingSendsOnlyFlag(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/sessions/s1/typing", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"is_typing": true}, body)
		w.WriteHeader(http.StatusOK)
	}))

	err := c.UpsertTyping(context.Background(), "s1", models.TypingEntry{ParticipantID: "ana", IsTyping: true, UpdatedAt: time.Now()})
	assert.NoError(t, err)
}

func TestSubscribeDeliversAndRedials(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/sessions/s1", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		n := conns.Add(1)
		_ = conn.WriteJSON(models.FeedEvent{Type: models.EventTypingUpdated, SessionID: "s1", OccurredAt: time.Unix(int64(n), 0)})
		if n == 1 {
			_ = conn.Close()
			return
		}
		_, _, _ = conn.ReadMessage()
	}))

	sub, err := c.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	for want := int64(1); want <= 2; want++ {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, want, ev.OccurredAt.Unix())
		case <-time.After(3 * time.Second):
			t.Fatalf("no event %d", want)
		}
	}

	require.NoError(t, sub.Close())
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestSubscribeForbidden(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not a session participant"}`))
	}))

	_, err := c.Subscribe(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrForbidden)
}
