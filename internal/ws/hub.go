package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"live-session/internal/models"
	"live-session/internal/observability"
)

const (
	writeWait        = 5 * time.Second
	feedRoutingKey   = "ws_events.sessions"
	lifecycleEventWS = "ws_events"
)

// Broadcaster delivers committed changes to a session's subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev models.FeedEvent)
}

// Client is one subscribed websocket connection.
type Client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *Client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the session rooms of this process.
type Hub struct {
	rooms  map[string]map[*Client]bool
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

// AddClient registers a websocket connection to a session room.
func (h *Hub) AddClient(sessionID string, conn *websocket.Conn, info ConnInfo) *Client {
	client := &Client{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[sessionID]; !ok {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][client] = true
	return client
}

// RemoveClient removes a connection and drops the room once empty.
func (h *Hub) RemoveClient(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// RoomSize returns the number of subscribers of a session.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Broadcast sends ev to every subscriber of its session. A failed write
// closes and drops the connection; the client reloads on reconnect.
func (h *Hub) Broadcast(ctx context.Context, ev models.FeedEvent) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[ev.SessionID]))
	for client := range h.rooms[ev.SessionID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	observability.IncFeedEvent(ev.Type)
	trace.SpanFromContext(ctx).AddEvent("feed.broadcast", trace.WithAttributes(
		attribute.String("feed.type", ev.Type),
		attribute.Int("feed.subscribers", len(clients)),
	))
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal feed event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	for _, client := range clients {
		if err := client.write(payload); err != nil {
			h.logger.Warn("websocket write error",
				zap.String("session_id", ev.SessionID),
				zap.String("conn_id", client.info.ConnID),
				zap.Error(err))
			_ = client.conn.Close()
			h.RemoveClient(ev.SessionID, client)
			observability.IncFeedDeliveryFailure()
			h.publishLifecycle(ctx, client.info, "ws_error", err.Error())
		}
	}
}

func (h *Hub) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, feedRoutingKey, observability.EventEnvelope{
		EventType: lifecycleEventWS,
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload:   info.payload(event, reason),
	})
}
