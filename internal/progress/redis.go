package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// advanceScript stores ARGV[1] only when it is greater than the current value.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local nxt = tonumber(ARGV[1])
if nxt > cur then
  redis.call("SET", KEYS[1], ARGV[1], "KEEPTTL")
  return ARGV[1]
end
return tostring(cur)
`)

// RedisTracker shares progress between the ingest worker and API processes.
type RedisTracker struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisTracker(client redis.UniversalClient, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisTracker{client: client, prefix: "bookscroll:progress:", retention: retention}
}

func (t *RedisTracker) key(jobID int64) string {
	return t.prefix + strconv.FormatInt(jobID, 10)
}

func (t *RedisTracker) Start(ctx context.Context, jobID int64) error {
	if err := t.client.Set(ctx, t.key(jobID), "0", 0).Err(); err != nil {
		return fmt.Errorf("start progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) Advance(ctx context.Context, jobID int64, pct float64) error {
	val := strconv.FormatFloat(clamp(pct), 'f', -1, 64)
	if err := advanceScript.Run(ctx, t.client, []string{t.key(jobID)}, val).Err(); err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, jobID int64) (float64, bool, error) {
	raw, err := t.client.Get(ctx, t.key(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get progress: %w", err)
	}
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse progress %q: %w", raw, err)
	}
	return pct, true, nil
}

func (t *RedisTracker) Finish(ctx context.Context, jobID int64) error {
	if err := t.client.Expire(ctx, t.key(jobID), t.retention).Err(); err != nil {
		return fmt.Errorf("finish progress: %w", err)
	}
	return nil
}
