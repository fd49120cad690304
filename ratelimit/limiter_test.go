package ratelimit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-guest-auth/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewMemoryLimiter(2, time.Minute, ratelimit.WithNowFunc(func() time.Time { return now }))

	res, err := limiter.Allow(ctx, "guest@example.com")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Remaining)

	res, _ = limiter.Allow(ctx, "guest@example.com")
	require.True(t, res.Allowed)

	res, _ = limiter.Allow(ctx, "guest@example.com")
	require.False(t, res.Allowed)
	require.Equal(t, time.Minute, res.RetryAfter)

	t.Run("keys are independent", func(t *testing.T) {
		res, _ := limiter.Allow(ctx, "other@example.com")
		require.True(t, res.Allowed)
	})

	t.Run("next window resets", func(t *testing.T) {
		now = now.Add(time.Minute)
		res, _ := limiter.Allow(ctx, "guest@example.com")
		require.True(t, res.Allowed)
		require.Equal(t, int64(1), res.Hits)
	})
}

func TestUnlimited(t *testing.T) {
	res, err := ratelimit.Unlimited{}.Allow(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	limiter := ratelimit.NewRedisLimiter(client, "test:rl:", 1, time.Minute)
	key := uuid.NewString()

	res, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}
