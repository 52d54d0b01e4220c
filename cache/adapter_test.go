package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, ps PubSub) {
	t.Helper()
	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, "chat:events")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "chat:events", "payload"))
	select {
	case msg := <-ch:
		assert.Equal(t, "chat:events", msg.Channel)
		assert.Equal(t, "payload", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pubsub message")
	}
}

func TestNewCache_LocalFallback(t *testing.T) {
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "b", time.Minute))
	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	ps, err := NewPubSub(CacheConfig{})
	require.NoError(t, err)
	roundTrip(t, ps)
}

func TestNewCache_Redis(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := CacheConfig{RedisAddr: s.Addr()}

	c, err := NewCache(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.SAdd(ctx, "chat:online", "7"))
	ok, err := c.SIsMember(ctx, "chat:online", "7")
	require.NoError(t, err)
	assert.True(t, ok)

	ps, err := NewPubSub(cfg)
	require.NoError(t, err)
	roundTrip(t, ps)
}
