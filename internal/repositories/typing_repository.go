package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"live-session/internal/models"
)

// TypingRepository stores the latest typing row per participant.
type TypingRepository interface {
	// UpsertTyping stores entry unless a newer row is already present and
	// returns the stored row.
	UpsertTyping(ctx context.Context, sessionID string, entry models.TypingEntry) (models.TypingEntry, error)
	// ListTyping returns participants currently typing.
	ListTyping(ctx context.Context, sessionID string) ([]models.TypingEntry, error)
}

// TypingRepo keeps typing rows in Postgres and filters stale ones on read.
type TypingRepo struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewTypingRepo constructs a TypingRepo.
func NewTypingRepo(db *sqlx.DB, ttl time.Duration) *TypingRepo {
	return &TypingRepo{db: db, ttl: ttl}
}

// UpsertTyping writes the row when it is at least as new as the stored one.
func (r *TypingRepo) UpsertTyping(ctx context.Context, sessionID string, entry models.TypingEntry) (models.TypingEntry, error) {
	var out models.TypingEntry
	err := r.db.QueryRowxContext(ctx, `INSERT INTO typing_status (session_id, participant_id, is_typing, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (session_id, participant_id) DO UPDATE
            SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at
            WHERE typing_status.updated_at <= EXCLUDED.updated_at
        RETURNING participant_id, is_typing, updated_at`, sessionID, entry.ParticipantID, entry.IsTyping, entry.UpdatedAt).
		StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return r.current(ctx, sessionID, entry.ParticipantID)
	}
	return out, err
}

func (r *TypingRepo) current(ctx context.Context, sessionID, participantID string) (models.TypingEntry, error) {
	var out models.TypingEntry
	err := r.db.GetContext(ctx, &out, `SELECT participant_id, is_typing, updated_at FROM typing_status
        WHERE session_id=$1 AND participant_id=$2`, sessionID, participantID)
	return out, err
}

// ListTyping returns rows that are typing and fresher than the TTL.
func (r *TypingRepo) ListTyping(ctx context.Context, sessionID string) ([]models.TypingEntry, error) {
	list := []models.TypingEntry{}
	err := r.db.SelectContext(ctx, &list, `SELECT participant_id, is_typing, updated_at FROM typing_status
        WHERE session_id=$1 AND is_typing = TRUE AND updated_at > $2
        ORDER BY participant_id`, sessionID, time.Now().Add(-r.ttl))
	return list, err
}

// RedisTypingRepo keeps one key per typing participant and lets Redis
// expire it, so a client that vanishes stops showing as typing.
type RedisTypingRepo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTypingRepo constructs a RedisTypingRepo.
func NewRedisTypingRepo(client *redis.Client, prefix string, ttl time.Duration) *RedisTypingRepo {
	return &RedisTypingRepo{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisTypingRepo) sessionPattern(sessionID string) string {
	return fmt.Sprintf("%s:typing:%s:*", r.prefix, sessionID)
}

func (r *RedisTypingRepo) key(sessionID, participantID string) string {
	return fmt.Sprintf("%s:typing:%s:%s", r.prefix, sessionID, participantID)
}

// UpsertTyping sets the key with a TTL while typing and deletes it on stop.
func (r *RedisTypingRepo) UpsertTyping(ctx context.Context, sessionID string, entry models.TypingEntry) (models.TypingEntry, error) {
	key := r.key(sessionID, entry.ParticipantID)
	if !entry.IsTyping {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return models.TypingEntry{}, err
		}
		return entry, nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return models.TypingEntry{}, err
	}
	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		return models.TypingEntry{}, err
	}
	return entry, nil
}

// ListTyping scans the session's keys.
func (r *RedisTypingRepo) ListTyping(ctx context.Context, sessionID string) ([]models.TypingEntry, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.sessionPattern(sessionID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	list := []models.TypingEntry{}
	if len(keys) == 0 {
		return list, nil
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry models.TypingEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ParticipantID < list[j].ParticipantID })
	return list, nil
}
