// Package ratelimit throttles abuse-prone endpoints (login, registration,
// password reset) with a sliding window kept in Redis.
//
// SLIDING WINDOW WITH A SORTED SET
// Every accepted hit is a member of one sorted set per client, scored by
// its time in milliseconds:
//
//	ZREMRANGEBYSCORE key -inf now-window   drop hits that left the window
//	ZCARD key                              hits still inside it
//	ZADD key now member                    record this hit, if it fits
//
// A fixed window ("10 per quarter hour, reset on the quarter") lets a
// client burst twice the limit across a boundary; the sorted set counts
// exactly the last window at every instant. All three steps run in one
// Lua script, so concurrent requests from the same client cannot both
// see room for one more.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Checker decides whether one more hit on key fits in the window.
type Checker interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// slidingWindow trims hits older than the window, counts what is left and
// records the new hit only when it fits. The caller supplies a unique
// member so two hits in the same millisecond both count, and the script
// touches KEYS[1] only.
//
// Reply: {allowed, remaining, reset_at_ms}. reset_at_ms is 0 when allowed.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)

if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)
	return {1, limit - current - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset_at = 0
if oldest and #oldest >= 2 then
	reset_at = tonumber(oldest[2]) + window_ms
end
return {0, 0, reset_at}
`)

// Limiter is a Checker backed by Redis sorted sets.
type Limiter struct {
	client    redis.Scripter
	keyPrefix string
	now       func() time.Time
}

func NewLimiter(client redis.Scripter, keyPrefix string) *Limiter {
	return &Limiter{client: client, keyPrefix: keyPrefix, now: time.Now}
}

var _ Checker = (*Limiter)(nil)

func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()

	member := fmt.Sprintf("%d:%s", nowMs, xid.New().String())

	res, err := slidingWindow.Run(ctx, l.client, []string{l.keyPrefix + key},
		nowMs, now.Add(-window).UnixMilli(), limit, window.Milliseconds(), member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: running window script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("ratelimit: unexpected script reply length %d", len(res))
	}

	resetAt := now.Add(window)
	if res[2] > 0 {
		resetAt = time.UnixMilli(res[2])
	}
	return &Result{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		Limit:     limit,
		ResetAt:   resetAt,
	}, nil
}
