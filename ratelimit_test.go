package debate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok, "third request in window must be rejected")

	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "limits are per key")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok, "window resets")
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewLimiter("redis://"+mr.Addr(), 2, time.Minute)
	require.NoError(t, err)
	rl, ok := limiter.(*RedisLimiter)
	require.True(t, ok)
	defer rl.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err = rl.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Minute, mr.TTL("debate:ratelimit:client"))

	mr.FastForward(time.Minute)
	ok, err = rl.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewLimiterUnlimited(t *testing.T) {
	l, err := NewLimiter("", 0, time.Minute)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), "x")
		require.NoError(t, err)
		require.True(t, ok)
	}
}
