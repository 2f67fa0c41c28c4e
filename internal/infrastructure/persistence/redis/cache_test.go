package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/application/query"
	"github.com/alem-hub/stepquest/pkg/logger"
)

// testCache connects to STEPQUEST_TEST_REDIS_ADDR or skips.
func testCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("STEPQUEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STEPQUEST_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	c, err := NewCache(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "stepquest:delivered:daily_steps:5000", DeliveredKey("daily_steps:5000"))
	assert.Equal(t, "stepquest:progress:default:2026-03-14", ProgressKey("progress:default:2026-03-14"))
}

func TestCache_Validation(t *testing.T) {
	c := NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}))
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Second), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", nil), ErrCacheKeyEmpty)
	_, err := c.SetNX(ctx, "", 1, time.Second)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	_, err = c.SetIfGeneration(ctx, "k", "", 0, 1, time.Second)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	_, err = c.SetIfGeneration(ctx, "k", "g", 0, 1, 0)
	assert.ErrorIs(t, err, ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Bump(ctx, "", "g", time.Second), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

func TestProgressCache_RoundTrip(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	pc := NewProgressCache(c, time.Minute, logger.Nop())
	key := "progress:test:" + uuid.NewString()

	_, ok := pc.Get(ctx, key)
	assert.False(t, ok)

	t.Cleanup(func() { _ = c.Delete(ctx, ProgressKey(key), GenerationKey(key)) })

	gen, ok := pc.Generation(ctx, key)
	require.True(t, ok)
	dto := &query.ProgressDTO{Level: query.LevelDTO{CurrentLevel: 3, NextLevel: 4, Progress: 0.2}}
	pc.Set(ctx, key, gen, dto)

	got, ok := pc.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, 3, got.Level.CurrentLevel)
	assert.InDelta(t, 0.2, got.Level.Progress, 1e-9)

	pc.Invalidate(ctx, key)
	_, ok = pc.Get(ctx, key)
	assert.False(t, ok)
}

func TestProgressCache_InvalidationBeatsSlowReader(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	pc := NewProgressCache(c, time.Minute, logger.Nop())
	key := "progress:test:" + uuid.NewString()
	t.Cleanup(func() { _ = c.Delete(ctx, ProgressKey(key), GenerationKey(key)) })

	// читатель взял поколение до коммита, инвалидация прошла раньше записи
	before, ok := pc.Generation(ctx, key)
	require.True(t, ok)
	pc.Invalidate(ctx, key)

	pc.Set(ctx, key, before, &query.ProgressDTO{Stats: query.StatsDTO{TotalSteps: 0}})
	_, ok = pc.Get(ctx, key)
	assert.False(t, ok)

	after, ok := pc.Generation(ctx, key)
	require.True(t, ok)
	assert.Equal(t, before+1, after)
	pc.Set(ctx, key, after, &query.ProgressDTO{Stats: query.StatsDTO{TotalSteps: 60000}})
	got, ok := pc.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(60000), got.Stats.TotalSteps)
}

func TestDeliveryGuard(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	g := NewDeliveryGuard(c, time.Minute)
	key := "daily_steps:" + uuid.NewString()
	t.Cleanup(func() { _ = c.Delete(ctx, DeliveredKey(key)) })

	seen, err := g.Delivered(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, g.MarkDelivered(ctx, key))
	require.NoError(t, g.MarkDelivered(ctx, key))

	seen, err = g.Delivered(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}
