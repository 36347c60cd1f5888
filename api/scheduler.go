/*
scheduler.go - Automated eligibility rescans

PURPOSE:
  An account that stays Current becomes eligible through the passage of
  time alone, with no new billing row to trigger an evaluation. The
  scheduler periodically re-evaluates the quarters whose competition
  window is still open and drops their cached leaderboards.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Scans the current quarter, plus the previous quarter until its
    window (quarter end + 30 days) closes
  - Runs once immediately on start

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRescanScheduler(processor, leaderboardService, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRescan endpoint (manual rescan)
  - ingest/processor.go: Reevaluate
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/ingest"
	"github.com/warp/bonus-engine/leaderboard"
)

// RescanScheduler handles automated eligibility rescans.
type RescanScheduler struct {
	Processor     *ingest.Processor
	Leaderboard   *leaderboard.Service
	Clock         generic.Clock
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	// runMu guards lastRun; mu is held by Stop while the loop drains.
	runMu   sync.Mutex
	lastRun time.Time
}

// NewRescanScheduler creates a new scheduler.
func NewRescanScheduler(processor *ingest.Processor, lb *leaderboard.Service, logger *zap.Logger) *RescanScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescanScheduler{
		Processor:     processor,
		Leaderboard:   lb,
		Clock:         generic.SystemClock{},
		Logger:        logger.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *RescanScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan bool)
	rs.wg.Add(1)

	go rs.run()

	rs.Logger.Info("started", zap.Duration("check_interval", rs.CheckInterval))
}

// Stop stops the scheduler.
func (rs *RescanScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("stopped")
	}
}

func (rs *RescanScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// OpenQuarters returns the quarters whose eligibility can still change at
// now: the current quarter, and the previous one while now is inside its
// competition window.
func OpenQuarters(now time.Time) []generic.QuarterKey {
	current := generic.QuarterOf(now)
	quarters := []generic.QuarterKey{current.Key()}
	if prev := current.Previous(); prev.CompetitionWindow().Contains(now) {
		quarters = append([]generic.QuarterKey{prev.Key()}, quarters...)
	}
	return quarters
}

func (rs *RescanScheduler) checkAndProcess(ctx context.Context) ([]ingest.RescanResult, error) {
	now := rs.Clock.Now()
	quarters := OpenQuarters(now)

	rs.Logger.Debug("rescanning", zap.Time("now", now), zap.Int("quarters", len(quarters)))

	var (
		results []ingest.RescanResult
		errs    []error
		changed []generic.QuarterKey
	)
	for _, q := range quarters {
		res, err := rs.Processor.Reevaluate(ctx, q)
		if err != nil {
			rs.Logger.Error("rescan failed", zap.String("quarter", string(q)), zap.Error(err))
			errs = append(errs, err)
			if res == nil {
				continue
			}
		}
		results = append(results, *res)
		if res.Changed > 0 {
			changed = append(changed, q)
		}
	}

	if len(changed) > 0 {
		rs.Leaderboard.Invalidate(ctx, changed...)
	}

	rs.runMu.Lock()
	rs.lastRun = now
	rs.runMu.Unlock()

	return results, errors.Join(errs...)
}

// RunNow triggers an immediate rescan (for testing/admin).
func (rs *RescanScheduler) RunNow(ctx context.Context) ([]ingest.RescanResult, error) {
	return rs.checkAndProcess(ctx)
}

// LastRun returns when the last rescan started, zero if none ran.
func (rs *RescanScheduler) LastRun() time.Time {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	return rs.lastRun
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RescanScheduler) GetNextRunTime() time.Time {
	return rs.Clock.Now().Add(rs.CheckInterval)
}
