package leaderboard_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/cache"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/generic/store"
	"github.com/warp/bonus-engine/leaderboard"
	"github.com/warp/bonus-engine/observability"
)

func seedStore(t *testing.T, records ...generic.Record) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	for _, r := range records {
		_, err := m.Upsert(context.Background(), r)
		require.NoError(t, err)
	}
	return m
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()

	// GIVEN: A store with one eligible deal and a memory cache
	st := seedStore(t, deal("Dana", true))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := leaderboard.NewService(st, leaderboard.StaticConfig(leaderboard.DefaultConfig()), cache.NewMemory(), nil)
	svc.Metrics = metrics

	first, err := svc.ForQuarter(ctx, "Q1_2025", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalPaidAccounts)

	// WHEN: A new deal lands without invalidation
	_, err = st.Upsert(ctx, deal("Eli", true))
	require.NoError(t, err)
	cached, err := svc.ForQuarter(ctx, "Q1_2025", 0)
	require.NoError(t, err)

	// THEN: The cached board is served
	assert.Equal(t, 1, cached.TotalPaidAccounts)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LeaderboardRequests.WithLabelValues("hit")))

	// AND: After invalidation the new deal shows
	svc.Invalidate(ctx, "Q1_2025")
	fresh, err := svc.ForQuarter(ctx, "Q1_2025", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalPaidAccounts)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LeaderboardRequests.WithLabelValues("miss")))
}

func TestService_RedisCacheRoundTripsLeaderboard(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	var records []generic.Record
	records = append(records, deals("A", 2)...)
	records = append(records, deals("B", 3)...)
	rc := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	svc := leaderboard.NewService(seedStore(t, records...), leaderboard.StaticConfig(leaderboard.DefaultConfig()), rc, nil)

	built, err := svc.ForQuarter(ctx, "Q1_2025", 8)
	require.NoError(t, err)
	assert.True(t, mr.Exists("leaderboard:Q1_2025:8"))

	cached, err := svc.ForQuarter(ctx, "Q1_2025", 8)
	require.NoError(t, err)
	assert.Equal(t, reps(built), reps(cached))
	assert.True(t, built.Standings[0].Prize.Equal(cached.Standings[0].Prize))
	require.NotNil(t, cached.Podium[1].Standing)
	assert.Equal(t, "B", cached.Podium[1].Standing.SalesRep)

	svc.Invalidate(ctx)
	assert.False(t, mr.Exists("leaderboard:Q1_2025:8"))
}

func TestService_UsesConfiguredMaxParticipants(t *testing.T) {
	var records []generic.Record
	for _, rep := range []string{"A", "B", "C"} {
		records = append(records, deal(rep, true))
	}
	cfg := leaderboard.DefaultConfig()
	cfg.MaxParticipants = 2
	svc := leaderboard.NewService(seedStore(t, records...), leaderboard.StaticConfig(cfg), nil, nil)

	lb, err := svc.ForQuarter(context.Background(), "Q1_2025", 0)
	require.NoError(t, err)
	assert.Len(t, lb.Standings, 2)

	lb, err = svc.ForQuarter(context.Background(), "Q1_2025", 3)
	require.NoError(t, err)
	assert.Len(t, lb.Standings, 3)
}

func TestService_InvalidQuarter(t *testing.T) {
	svc := leaderboard.NewService(store.NewMemory(), leaderboard.StaticConfig(leaderboard.DefaultConfig()), nil, nil)

	_, err := svc.ForQuarter(context.Background(), "2025", 0)

	assert.ErrorIs(t, err, generic.ErrInvalidQuarterKey)
}

type brokenConfig struct{}

func (brokenConfig) LeaderboardConfig(context.Context) (leaderboard.Config, error) {
	return leaderboard.Config{}, errors.New("settings table missing")
}

func TestService_ConfigErrorPropagates(t *testing.T) {
	svc := leaderboard.NewService(store.NewMemory(), brokenConfig{}, nil, nil)

	_, err := svc.ForQuarter(context.Background(), "Q1_2025", 0)

	assert.ErrorContains(t, err, "settings table missing")
}

func TestService_ExportCSV(t *testing.T) {
	svc := leaderboard.NewService(
		seedStore(t, deal("Dana", true), deal("Dana", false), deal("Eli", true)),
		leaderboard.StaticConfig(leaderboard.DefaultConfig()), nil, nil)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), "Q1_2025", &buf))

	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], `"Dana",`))
	assert.True(t, strings.HasPrefix(lines[2], `"Eli",`))
}
