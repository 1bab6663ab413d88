package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, "test:"), mr
}

func TestLocalCache(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(time.Minute, time.Minute)

	t.Run("miss", func(t *testing.T) {
		_, found := c.Get(ctx, "absent")
		assert.False(t, found)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		got, found := c.Get(ctx, "k")
		require.True(t, found)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, c.Delete(ctx, "k"))
		_, found := c.Get(ctx, "k")
		assert.False(t, found)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
		require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
		require.NoError(t, c.Clear(ctx))
		_, found := c.Get(ctx, "a")
		assert.False(t, found)
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		c, _ := setupRedisCache(t)
		require.NoError(t, c.Set(ctx, "rules:domain:d1", []byte(`[{"id":"r1"}]`), time.Minute))
		got, found := c.Get(ctx, "rules:domain:d1")
		require.True(t, found)
		assert.Equal(t, []byte(`[{"id":"r1"}]`), got)
	})

	t.Run("miss", func(t *testing.T) {
		c, _ := setupRedisCache(t)
		_, found := c.Get(ctx, "absent")
		assert.False(t, found)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		c, mr := setupRedisCache(t)
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
		mr.FastForward(2 * time.Second)
		_, found := c.Get(ctx, "k")
		assert.False(t, found)
	})

	t.Run("delete", func(t *testing.T) {
		c, _ := setupRedisCache(t)
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, c.Delete(ctx, "k"))
		_, found := c.Get(ctx, "k")
		assert.False(t, found)
	})

	t.Run("clear only touches own namespace", func(t *testing.T) {
		c, mr := setupRedisCache(t)
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		mr.Set("other:key", "kept")

		require.NoError(t, c.Clear(ctx))

		_, found := c.Get(ctx, "k")
		assert.False(t, found)
		kept, err := mr.Get("other:key")
		require.NoError(t, err)
		assert.Equal(t, "kept", kept)
	})
}
