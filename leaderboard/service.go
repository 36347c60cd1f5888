package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/warp/bonus-engine/cache"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/observability"
)

// =============================================================================
// SERVICE - Per-quarter leaderboards backed by the record store
// =============================================================================

// ConfigSource supplies the live leaderboard configuration.
type ConfigSource interface {
	LeaderboardConfig(ctx context.Context) (Config, error)
}

// StaticConfig is a ConfigSource that never changes.
type StaticConfig Config

func (c StaticConfig) LeaderboardConfig(context.Context) (Config, error) { return Config(c), nil }

// Service builds and caches leaderboards.
type Service struct {
	Store   generic.Store
	Config  ConfigSource
	Cache   cache.Cache // nil disables caching
	TTL     time.Duration
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

// NewService creates a service with a five minute cache TTL.
func NewService(store generic.Store, config ConfigSource, c cache.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:  store,
		Config: config,
		Cache:  c,
		TTL:    5 * time.Minute,
		Logger: logger,
		Tracer: observability.Tracer(nil),
	}
}

const keyPrefix = "leaderboard:"

func cacheKey(quarter generic.QuarterKey, maxParticipants int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, quarter, maxParticipants)
}

// ForQuarter returns the quarter's leaderboard. maxParticipants <= 0 uses
// the configured MAX_PARTICIPANTS.
func (s *Service) ForQuarter(ctx context.Context, quarter generic.QuarterKey, maxParticipants int) (Leaderboard, error) {
	ctx, span := s.Tracer.Start(ctx, "leaderboard.ForQuarter",
		trace.WithAttributes(attribute.String("quarter", string(quarter))))
	defer span.End()

	quarter, err := quarter.Canonical()
	if err != nil {
		return Leaderboard{}, err
	}

	cfg, err := s.Config.LeaderboardConfig(ctx)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("load leaderboard config: %w", err)
	}
	if maxParticipants <= 0 {
		maxParticipants = cfg.MaxParticipants
	}

	key := cacheKey(quarter, maxParticipants)
	if s.Cache != nil {
		var lb Leaderboard
		err := cache.GetJSON(ctx, s.Cache, key, &lb)
		if err == nil {
			s.Metrics.LeaderboardRead(true)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return lb, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			// A broken cache degrades to a direct build.
			s.Logger.Warn("leaderboard cache read failed", zap.String("key", key), zap.Error(err))
		}
	}
	s.Metrics.LeaderboardRead(false)

	start := time.Now()
	records, err := s.Store.ListByQuarter(ctx, quarter, generic.EligibleOnly())
	if err != nil {
		span.RecordError(err)
		return Leaderboard{}, fmt.Errorf("list eligible records for %s: %w", quarter, err)
	}
	lb := Build(records, cfg, maxParticipants)
	s.Metrics.LeaderboardBuild(time.Since(start))

	if s.Cache != nil {
		if err := cache.SetJSON(ctx, s.Cache, key, lb, s.TTL); err != nil {
			s.Logger.Warn("leaderboard cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	s.Logger.Debug("leaderboard built",
		zap.String("quarter", string(quarter)),
		zap.Int("records", len(records)),
		zap.Int("total_paid_accounts", lb.TotalPaidAccounts),
		zap.Duration("duration", time.Since(start)),
	)
	return lb, nil
}

// Invalidate drops cached leaderboards for the given quarters, or for every
// quarter when none are given.
func (s *Service) Invalidate(ctx context.Context, quarters ...generic.QuarterKey) {
	if s.Cache == nil {
		return
	}
	prefixes := []string{keyPrefix}
	if len(quarters) > 0 {
		prefixes = prefixes[:0]
		for _, q := range quarters {
			prefixes = append(prefixes, keyPrefix+string(q)+":")
		}
	}
	for _, p := range prefixes {
		if err := s.Cache.DeletePrefix(ctx, p); err != nil {
			s.Logger.Warn("leaderboard cache invalidation failed", zap.String("prefix", p), zap.Error(err))
		}
	}
}

// ExportCSV writes the quarter's CSV export to w. Exports are never cached.
func (s *Service) ExportCSV(ctx context.Context, quarter generic.QuarterKey, w io.Writer) error {
	ctx, span := s.Tracer.Start(ctx, "leaderboard.ExportCSV",
		trace.WithAttributes(attribute.String("quarter", string(quarter))))
	defer span.End()

	quarter, err := quarter.Canonical()
	if err != nil {
		return err
	}
	cfg, err := s.Config.LeaderboardConfig(ctx)
	if err != nil {
		return fmt.Errorf("load leaderboard config: %w", err)
	}
	records, err := s.Store.ListByQuarter(ctx, quarter, generic.EligibleOnly())
	if err != nil {
		return fmt.Errorf("list eligible records for %s: %w", quarter, err)
	}
	return WriteCSV(w, records, cfg)
}
