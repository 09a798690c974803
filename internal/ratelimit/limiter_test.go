package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntred/chatflow/internal/model"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available for testing")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available for testing")
	}
	t.Cleanup(func() { client.Close() })
	client.FlushDB(context.Background())
	return client
}

func TestLimiter_MinInterval(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	t.Run("denies second send inside interval", func(t *testing.T) {
		limiter := NewLimiter(client, 500*time.Millisecond)

		assert.True(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-1"))
		assert.False(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-1"))
	})

	t.Run("allows both sends spaced past interval", func(t *testing.T) {
		limiter := NewLimiter(client, 100*time.Millisecond)

		assert.True(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-2"))
		time.Sleep(150 * time.Millisecond)
		assert.True(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-2"))
	})

	t.Run("keys are independent per user", func(t *testing.T) {
		limiter := NewLimiter(client, time.Second)

		assert.True(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-3"))
		assert.True(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-4"))
	})

	t.Run("keys are independent per channel", func(t *testing.T) {
		limiter := NewLimiter(client, time.Second)

		assert.True(t, limiter.Allow(ctx, model.ChannelWhatsApp, "user-5"))
		assert.True(t, limiter.Allow(ctx, model.ChannelTelegram, "user-5"))
	})

	t.Run("per-channel interval override", func(t *testing.T) {
		limiter := NewLimiter(client, time.Second)
		limiter.SetChannelInterval(model.ChannelTelegram, 50*time.Millisecond)

		assert.True(t, limiter.Allow(ctx, model.ChannelTelegram, "user-6"))
		time.Sleep(80 * time.Millisecond)
		assert.True(t, limiter.Allow(ctx, model.ChannelTelegram, "user-6"))
	})
}

func TestLimiter_FailsOpen(t *testing.T) {
	invalidClient := redis.NewClient(&redis.Options{
		Addr: "localhost:9999", // nothing listening
	})
	defer invalidClient.Close()

	limiter := NewLimiter(invalidClient, time.Second)

	allowed := limiter.Allow(context.Background(), model.ChannelWhatsApp, "user-1")
	require.True(t, allowed, "redis failure must not block sends")
}
