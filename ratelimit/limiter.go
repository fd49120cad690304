// Package ratelimit holds fixed window request limiters.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	Hits       int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func windowKey(prefix, key string, window time.Duration, now time.Time) (string, time.Time) {
	start := now.UTC().Truncate(window)
	return fmt.Sprintf("%s%s:%d", prefix, strings.ReplaceAll(key, " ", "_"), start.Unix()), start.Add(window)
}

func result(hits, max int64, retryAfter time.Duration) Result {
	res := Result{Allowed: hits <= max, Hits: hits, Remaining: max - hits}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter
	}
	return res
}

// RedisLimiter is a fixed window counter (INCR + EXPIRE) shared by all instances.
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	max     int64
	window  time.Duration
	nowFunc func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window, nowFunc: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey, windowEnd := windowKey(l.prefix, key, l.window, l.nowFunc())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, errors.Wrap(err, "[RedisLimiter.Allow] Exec")
	}
	return result(incr.Val(), l.max, time.Until(windowEnd)), nil
}

// MemoryLimiter is the single instance equivalent of RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	counts  *cache.Cache
	max     int64
	window  time.Duration
	nowFunc func() time.Time
}

type MemoryOption func(*MemoryLimiter)

func WithNowFunc(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.nowFunc = now
	}
}

func NewMemoryLimiter(max int, window time.Duration, options ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		counts:  cache.New(window, 2*window),
		max:     int64(max),
		window:  window,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.nowFunc()
	cacheKey, windowEnd := windowKey("", key, l.window, now)

	l.mu.Lock()
	defer l.mu.Unlock()
	hits, err := l.counts.IncrementInt64(cacheKey, 1)
	if err != nil {
		hits = 1
		l.counts.Set(cacheKey, hits, windowEnd.Sub(now))
	}
	return result(hits, l.max, windowEnd.Sub(now)), nil
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, key string) (Result, error) {
	return Result{Allowed: true}, nil
}
