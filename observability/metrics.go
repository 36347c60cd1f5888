package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. It is registered on a
// caller-supplied registry so tests and multiple servers never collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RowsTotal counts import rows by outcome: processed, skipped, filtered, failed.
	RowsTotal *prometheus.CounterVec

	// EligibilityTotal counts evaluations by result and reason.
	EligibilityTotal *prometheus.CounterVec

	// BatchDuration observes EvaluateBatch wall time.
	BatchDuration prometheus.Histogram

	// ConflictRetries counts optimistic-write retries.
	ConflictRetries prometheus.Counter

	// LeaderboardRequests counts leaderboard reads by cache result: hit, miss.
	LeaderboardRequests *prometheus.CounterVec

	// LeaderboardBuildDuration observes uncached builds.
	LeaderboardBuildDuration prometheus.Histogram

	// LikesTotal counts likes given.
	LikesTotal prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bonus",
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Import rows by outcome",
			},
			[]string{"outcome"},
		),
		EligibilityTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bonus",
				Subsystem: "eligibility",
				Name:      "evaluations_total",
				Help:      "Eligibility evaluations by result and reason",
			},
			[]string{"eligible", "reason"},
		),
		BatchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "bonus",
				Subsystem: "ingest",
				Name:      "batch_duration_seconds",
				Help:      "Duration of import batches in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		ConflictRetries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bonus",
				Subsystem: "ingest",
				Name:      "conflict_retries_total",
				Help:      "Record writes retried after a concurrent modification",
			},
		),
		LeaderboardRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bonus",
				Subsystem: "leaderboard",
				Name:      "requests_total",
				Help:      "Leaderboard reads by cache result",
			},
			[]string{"cache"},
		),
		LeaderboardBuildDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "bonus",
				Subsystem: "leaderboard",
				Name:      "build_duration_seconds",
				Help:      "Duration of uncached leaderboard builds in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		LikesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bonus",
				Subsystem: "likes",
				Name:      "given_total",
				Help:      "Likes given to salespeople",
			},
		),
	}
}

func (m *Metrics) Row(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Evaluation(eligible bool, reason string) {
	if m == nil {
		return
	}
	e := "false"
	if eligible {
		e = "true"
	}
	m.EligibilityTotal.WithLabelValues(e, reason).Inc()
}

func (m *Metrics) Batch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}

func (m *Metrics) LeaderboardRead(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.LeaderboardRequests.WithLabelValues("hit").Inc()
		return
	}
	m.LeaderboardRequests.WithLabelValues("miss").Inc()
}

func (m *Metrics) LeaderboardBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.LeaderboardBuildDuration.Observe(d.Seconds())
}

func (m *Metrics) Like() {
	if m == nil {
		return
	}
	m.LikesTotal.Inc()
}
