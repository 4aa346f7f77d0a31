package server

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiterFromURI(t *testing.T) {
	mem, err := NewLimiterFromURI("memory://", 100)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, mem)

	empty, err := NewLimiterFromURI("", 100)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, empty)

	red, err := NewLimiterFromURI("redis://localhost:6379/0", 100)
	require.NoError(t, err)
	assert.IsType(t, &RedisLimiter{}, red)

	_, err = NewLimiterFromURI("kafka://nope", 100)
	assert.Error(t, err)

	_, err = NewLimiterFromURI("redis://bad uri %%", 100)
	assert.Error(t, err)
}

func TestMemoryLimiter_PerKeyBudget(t *testing.T) {
	l := NewMemoryLimiter(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different client has its own budget.
	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLimiter(client, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_BackendErrorSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	l := NewRedisLimiter(client, 3)
	_, err := l.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}
