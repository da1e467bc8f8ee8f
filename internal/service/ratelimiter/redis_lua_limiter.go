package ratelimiter

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLuaLimiter is a sliding-window limiter shared across instances via a
// Redis sorted set. The Lua script drops entries older than the window,
// admits the call when the set is under the limit, and otherwise reports how
// long until the oldest entry expires. Redis failures fail open so that an
// infra outage degrades to the provider's own throttling instead of a hard
// stop.
type RedisLuaLimiter struct {
	redis  *redis.Client
	key    string
	limit  int
	window time.Duration
	script *redis.Script
	seq    atomic.Int64
}

// NewRedisLuaLimiter builds a limiter admitting limit starts per window under
// the given logical key. Returns nil when rdb is nil.
func NewRedisLuaLimiter(rdb *redis.Client, key string, limit int, window time.Duration) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisLuaLimiter{
		redis:  rdb,
		key:    "rate:" + key,
		limit:  limit,
		window: window,
		script: redis.NewScript(luaSlidingWindowScript),
	}
}

const luaSlidingWindowScript = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now_ms - window_ms)
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now_ms, member)
  redis.call("PEXPIRE", key, window_ms * 2)
  return { 1, 0 }
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry_ms = window_ms
if oldest[2] ~= nil then
  retry_ms = tonumber(oldest[2]) + window_ms - now_ms
end
if retry_ms < 1 then
  retry_ms = 1
end
return { 0, retry_ms }
`

// Allow runs one admission attempt. It returns whether the call may start
// and, when denied, how long to wait before retrying.
func (l *RedisLuaLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatInt(l.seq.Add(1), 10)
	res, err := l.script.Run(ctx, l.redis, []string{l.key},
		l.window.Milliseconds(), l.limit, now.UnixMilli(), member).Result()
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("key", l.key), slog.Any("error", err))
		// Fail open on Redis errors to avoid hard outages; provider 4xx/429 handling still applies separately.
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", l.key), slog.Any("result", res))
		return true, 0, nil
	}

	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toInt64(vals[1])) * time.Millisecond
	return allowed, retryAfter, nil
}

// Wait blocks until an admission slot is free or ctx is done.
func (l *RedisLuaLimiter) Wait(ctx context.Context) error {
	for {
		allowed, retryAfter, err := l.Allow(ctx)
		if err != nil || allowed {
			// err means fail-open: the attempt proceeds.
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		if retryAfter > l.window {
			retryAfter = l.window
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
