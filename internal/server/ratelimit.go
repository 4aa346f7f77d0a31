package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

// Limiter decides whether a client may issue another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// NewLimiterFromURI picks the limiter backend from a storage URI:
// "memory://" for per-process token buckets, "redis://..." for a shared
// fixed window across instances.
func NewLimiterFromURI(uri string, perMinute int) (Limiter, error) {
	switch {
	case uri == "" || strings.HasPrefix(uri, "memory://"):
		return NewMemoryLimiter(perMinute), nil
	case strings.HasPrefix(uri, "redis://"), strings.HasPrefix(uri, "rediss://"):
		opts, err := redis.ParseURL(uri)
		if err != nil {
			return nil, kberrors.New(kberrors.ErrCodeConfigInvalid,
				fmt.Sprintf("parse rate limit storage uri: %v", err), err)
		}
		return NewRedisLimiter(redis.NewClient(opts), perMinute), nil
	default:
		return nil, kberrors.New(kberrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unsupported rate limit storage uri: %s", uri), nil)
	}
}

// MemoryLimiter keeps one token bucket per client key. Suitable for a
// single instance only.
type MemoryLimiter struct {
	perMinute int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	return &MemoryLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from the client's bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(m.perMinute)/60.0), m.perMinute)
		m.buckets[key] = b
	}
	m.mu.Unlock()
	return b.Allow(), nil
}

// RedisLimiter counts requests per client in a fixed one-minute window,
// shared across all API instances.
type RedisLimiter struct {
	client    redis.Cmdable
	perMinute int
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.Cmdable, perMinute int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	return &RedisLimiter{client: client, perMinute: perMinute}
}

// Allow increments the client's window counter and compares it to the
// budget. The key expires with the window.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().UTC().Unix() / 60
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, kberrors.New(kberrors.ErrCodeStoreUnavailable, "rate limit counter", err)
	}
	return incr.Val() <= int64(r.perMinute), nil
}
