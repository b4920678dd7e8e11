// Package presence answers "is this user actively viewing this room
// right now". Entries are written by the realtime layer with a short
// TTL; this package only provides the lookup plus the set/clear
// helpers that layer calls.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Tracker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewTracker(rdb *redis.Client, ttl time.Duration) *Tracker {
	return &Tracker{rdb: rdb, prefix: "presence:", ttl: ttl}
}

func (t *Tracker) key(roomID, userID string) string {
	return t.prefix + roomID + ":" + userID
}

// IsPresent reports whether userID is currently viewing roomID. Any
// cache error degrades to "not present": the unread counter then
// increments, which over-notifies rather than silently dropping a
// signal.
func (t *Tracker) IsPresent(ctx context.Context, roomID, userID string) bool {
	n, err := t.rdb.Exists(ctx, t.key(roomID, userID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Enter marks userID as viewing roomID until TTL elapses or Leave is
// called.
func (t *Tracker) Enter(ctx context.Context, roomID, userID string) error {
	if err := t.rdb.Set(ctx, t.key(roomID, userID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (t *Tracker) Leave(ctx context.Context, roomID, userID string) error {
	if err := t.rdb.Del(ctx, t.key(roomID, userID)).Err(); err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}
