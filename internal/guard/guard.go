package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter caps webhook calls per bot per hour window. A limit <= 0
// disables it.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, botKey string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	if r.limit <= 0 {
		return true, 0, time.Time{}, nil
	}

	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("chatrelay:ratelimit:%s:%s", botKey, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// MessageDeduplicator short-circuits repeated webhook deliveries of the same
// message before the database is touched. The dialogue's unique message_id
// constraint remains the authoritative check.
type MessageDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewMessageDeduplicator(rdb *redis.Client, ttl time.Duration) *MessageDeduplicator {
	return &MessageDeduplicator{redis: rdb, ttl: ttl}
}

// MarkFirst reports whether this (bot, chat, message) triple is seen for the
// first time within the TTL window.
func (d *MessageDeduplicator) MarkFirst(ctx context.Context, botID, chatID, messageID string) (bool, error) {
	key := fmt.Sprintf("chatrelay:msg:%s:%s:%s", botID, chatID, messageID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
