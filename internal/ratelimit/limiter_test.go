package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLimiter runs the real window script against an in-process Redis.
// The limiter's clock is the returned pointer so tests can slide it.
func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.UnixMilli(1_700_000_000_000)
	l := NewLimiter(client, "test:")
	l.now = func() time.Time { return clock }
	return l, mr, &clock
}

func TestLimiter_CountsDownThenDenies(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	ctx := context.Background()
	start := *clock

	for i, wantRemaining := range []int{2, 1, 0} {
		*clock = start.Add(time.Duration(i) * 10 * time.Second)
		res, err := l.Allow(ctx, "login:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i+1)
		assert.Equal(t, wantRemaining, res.Remaining, "hit %d", i+1)
		assert.Equal(t, 3, res.Limit)
	}

	*clock = start.Add(30 * time.Second)
	res, err := l.Allow(ctx, "login:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.ResetAt.Equal(start.Add(time.Minute)),
		"ResetAt = %v, want oldest hit + window (%v)", res.ResetAt, start.Add(time.Minute))
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	ctx := context.Background()
	start := *clock

	for i := range 2 {
		*clock = start.Add(time.Duration(i) * 20 * time.Second)
		res, err := l.Allow(ctx, "register:ip", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "register:ip", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The first hit has left the window; the second (at +20s) has not.
	*clock = start.Add(61 * time.Second)
	res, err = l.Allow(ctx, "register:ip", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Allow(ctx, "register:ip", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.ResetAt.Equal(start.Add(80*time.Second)), "ResetAt = %v", res.ResetAt)
}

func TestLimiter_SameMillisecondHitsAllCount(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for range 2 {
		res, err := l.Allow(ctx, "burst", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "burst", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "a third hit at the same instant must be denied")
}

func TestLimiter_KeysAreIsolatedAndPrefixed(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	ctx := context.Background()

	res, err := l.Allow(ctx, "login:a", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "login:b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another client has its own window")

	assert.True(t, mr.Exists("test:login:a"))
	assert.Equal(t, []string{"test:login:a", "test:login:b"}, mr.Keys())
	assert.Greater(t, mr.TTL("test:login:a"), time.Duration(0))
}

func TestLimiter_RedisDown(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	mr.Close()

	_, err := l.Allow(context.Background(), "login:a", 1, time.Minute)
	assert.Error(t, err)
}
