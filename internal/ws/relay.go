package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"live-session/internal/models"
)

// RedisRelay fans feed events out across gateway instances through Redis
// pub/sub. Every instance runs the relay and delivers to its own Hub.
type RedisRelay struct {
	client *redis.Client
	prefix string
	hub    *Hub
	logger *zap.Logger
}

// NewRedisRelay constructs a RedisRelay.
func NewRedisRelay(client *redis.Client, prefix string, hub *Hub, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, prefix: prefix, hub: hub, logger: logger}
}

func (r *RedisRelay) channel(sessionID string) string {
	return fmt.Sprintf("%s:feed:%s", r.prefix, sessionID)
}

// Broadcast publishes ev to Redis, falling back to the local hub when the
// publish fails.
func (r *RedisRelay) Broadcast(ctx context.Context, ev models.FeedEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("marshal feed event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel(ev.SessionID), payload).Err(); err != nil {
		r.logger.Warn("redis relay publish failed, delivering locally", zap.String("session_id", ev.SessionID), zap.Error(err))
		r.hub.Broadcast(ctx, ev)
	}
}

// Run delivers relayed events to the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+":feed:*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe feed relay: %w", err)
	}
	r.logger.Info("redis feed relay started")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var ev models.FeedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping malformed relayed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			r.hub.Broadcast(ctx, ev)
		}
	}
}
