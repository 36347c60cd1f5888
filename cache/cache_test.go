package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/cache"
)

func newRedis(t *testing.T) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

type board struct {
	Quarter string `json:"quarter"`
	Total   int    `json:"total"`
}

func exerciseCache(t *testing.T, c cache.Cache) {
	ctx := context.Background()

	// GIVEN: Two quarters cached
	require.NoError(t, cache.SetJSON(ctx, c, "leaderboard:Q1_2025:8", board{"Q1_2025", 3}, time.Minute))
	require.NoError(t, cache.SetJSON(ctx, c, "leaderboard:Q1_2025:3", board{"Q1_2025", 3}, time.Minute))
	require.NoError(t, cache.SetJSON(ctx, c, "leaderboard:Q2_2025:8", board{"Q2_2025", 7}, time.Minute))

	var got board
	require.NoError(t, cache.GetJSON(ctx, c, "leaderboard:Q2_2025:8", &got))
	assert.Equal(t, 7, got.Total)

	// WHEN: One quarter is invalidated
	require.NoError(t, c.DeletePrefix(ctx, "leaderboard:Q1_2025:"))

	// THEN: Only that quarter is gone
	assert.ErrorIs(t, cache.GetJSON(ctx, c, "leaderboard:Q1_2025:8", &got), cache.ErrNotFound)
	assert.ErrorIs(t, cache.GetJSON(ctx, c, "leaderboard:Q1_2025:3", &got), cache.ErrNotFound)
	require.NoError(t, cache.GetJSON(ctx, c, "leaderboard:Q2_2025:8", &got))

	require.NoError(t, c.Delete(ctx, "leaderboard:Q2_2025:8"))
	_, err := c.Get(ctx, "leaderboard:Q2_2025:8")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRedis(t *testing.T) {
	c, _ := newRedis(t)
	exerciseCache(t, c)
}

func TestMemory(t *testing.T) {
	exerciseCache(t, cache.NewMemory())
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRedis_DeletePrefixManyKeys(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	for i := 0; i < 250; i++ {
		require.NoError(t, c.Set(ctx, "leaderboard:Q3_2025:"+time.Duration(i).String(), []byte("x"), 0))
	}
	require.NoError(t, c.Set(ctx, "other", []byte("x"), 0))

	require.NoError(t, c.DeletePrefix(ctx, "leaderboard:"))

	assert.Equal(t, []string{"other"}, mr.Keys())
}
