/*
processor.go - Batch evaluation of billing rows

PURPOSE:
  Turns a batch of billing rows into stored records: each row's status is
  merged into the customer's history for the quarter of its first payment,
  eligibility is recomputed, and the record is written back.

FLOW:
  1. Ping the store (systemic failure aborts the batch)
  2. Parse rows; invalid rows are skipped, out-of-quarter rows filtered
  3. Group rows by (quarter, customer) keeping input order
  4. One goroutine per key, bounded by Workers; rows of a key run in order
  5. Per row: Get -> MergeStatus -> Evaluate -> Upsert, retried on conflict
  6. Persist an ImportRun when the store keeps an audit trail

ERROR ISOLATION:
  A failing record never aborts the batch. Its error is attached to its
  Outcome. EvaluateBatch only returns an error when the store is down:
  the up-front ping failed, or every attempted record failed with
  ErrStoreUnavailable.

SEE ALSO:
  - generic/ledger.go: MergeStatus
  - generic/eligibility.go: Evaluate
  - generic/store.go: Optimistic versioning
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/observability"
)

// Import sources recorded on ImportRun.
const (
	SourceAPI    = "api"
	SourceCLI    = "cli"
	SourceRescan = "rescan"
)

// Import run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// =============================================================================
// RESULTS
// =============================================================================

// Outcome is the final state of one record after the batch.
type Outcome struct {
	Key           generic.RecordKey     `json:"-"`
	QuarterKey    generic.QuarterKey    `json:"quarter_key"`
	CustomerID    string                `json:"customer_id"`
	Rows          int                   `json:"rows"`
	Created       bool                  `json:"created"`
	Appended      bool                  `json:"appended"`
	BonusEligible bool                  `json:"bonus_eligible"`
	Reason        string                `json:"reason,omitempty"`
	History       []generic.StatusEntry `json:"status_history,omitempty"`
	Attempts      int                   `json:"attempts"`
	Err           error                 `json:"-"`
	Error         string                `json:"error,omitempty"`
}

// Skip describes a row that was not processed.
type Skip struct {
	Line       int    `json:"line"`
	CustomerID string `json:"customer_id,omitempty"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// BatchResult summarizes EvaluateBatch.
type BatchResult struct {
	BatchID     uuid.UUID            `json:"batch_id"`
	Source      string               `json:"source"`
	Rows        int                  `json:"rows"`
	Outcomes    []Outcome            `json:"outcomes"`
	Skipped     []Skip               `json:"skipped"`
	Filtered    int                  `json:"filtered"`
	Processed   int                  `json:"processed"`
	Failed      int                  `json:"failed"`
	Eligible    int                  `json:"eligible"`
	Quarters    []generic.QuarterKey `json:"quarters"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
}

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor evaluates batches against a Store.
type Processor struct {
	Store   generic.Store
	Clock   generic.Clock
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer

	// Workers bounds concurrent record keys. <= 0 means 1.
	Workers int

	// CurrentQuarterOnly drops rows whose first payment is outside the
	// quarter containing now.
	CurrentQuarterOnly bool

	// MaxAttempts bounds optimistic write attempts per row.
	MaxAttempts int

	// Source labels import runs ("api", "cli").
	Source string
}

// NewProcessor creates a processor with the system clock, 8 workers and 3
// write attempts.
func NewProcessor(store generic.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		Store:       store,
		Clock:       generic.SystemClock{},
		Logger:      logger,
		Tracer:      observability.Tracer(nil),
		Workers:     8,
		MaxAttempts: 3,
		Source:      SourceAPI,
	}
}

func (p *Processor) workers() int {
	if p.Workers <= 0 {
		return 1
	}
	return p.Workers
}

func (p *Processor) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// EvaluateBatch merges rows into stored records and recomputes eligibility.
// On a systemic store failure the partial result is returned alongside an
// error wrapping generic.ErrStoreUnavailable.
func (p *Processor) EvaluateBatch(ctx context.Context, rows []Row) (*BatchResult, error) {
	started := time.Now()
	now := p.Clock.Now().UTC()
	result := &BatchResult{
		BatchID:   uuid.New(),
		Source:    p.Source,
		Rows:      len(rows),
		Outcomes:  []Outcome{},
		Skipped:   []Skip{},
		Quarters:  []generic.QuarterKey{},
		StartedAt: now,
	}

	ctx, span := p.Tracer.Start(ctx, "ingest.EvaluateBatch", trace.WithAttributes(
		attribute.String("batch_id", result.BatchID.String()),
		attribute.Int("rows", len(rows)),
	))
	defer span.End()

	log := p.Logger.With(zap.String("batch_id", result.BatchID.String()), zap.String("source", p.Source))

	if pinger, ok := p.Store.(generic.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			err = fmt.Errorf("evaluate batch: %w", wrapUnavailable(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "store unavailable")
			log.Error("store unavailable, batch rejected", zap.Error(err))
			return nil, err
		}
	}

	p.saveRun(ctx, result, RunRunning, nil)

	// Parse and group by key, preserving first-occurrence order.
	var keys []generic.RecordKey
	byKey := make(map[generic.RecordKey][]parsedRow)
	currentQuarter := generic.QuarterOf(now).Key()
	for i, row := range rows {
		if row.Line == 0 {
			row.Line = i + 1
		}
		pr, err := row.parse()
		if err != nil {
			result.Skipped = append(result.Skipped, skipFor(row, err))
			continue
		}
		if p.CurrentQuarterOnly && pr.key.QuarterKey != currentQuarter {
			result.Filtered++
			continue
		}
		if _, seen := byKey[pr.key]; !seen {
			keys = append(keys, pr.key)
		}
		byKey[pr.key] = append(byKey[pr.key], pr)
	}

	outcomes := make([]Outcome, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			outcomes[i] = p.applyKey(gctx, key, byKey[key], now)
			return nil
		})
	}
	_ = g.Wait()

	quarters := make(map[generic.QuarterKey]bool)
	unavailable := 0
	for _, o := range outcomes {
		if o.Err != nil {
			o.Error = o.Err.Error()
			result.Failed++
			if errors.Is(o.Err, generic.ErrStoreUnavailable) {
				unavailable++
			}
			log.Warn("record failed", zap.String("key", o.Key.String()), zap.Error(o.Err))
		} else {
			result.Processed++
			if o.BonusEligible {
				result.Eligible++
			}
			p.Metrics.Evaluation(o.BonusEligible, o.Reason)
		}
		if !quarters[o.QuarterKey] {
			quarters[o.QuarterKey] = true
			result.Quarters = append(result.Quarters, o.QuarterKey)
		}
		result.Outcomes = append(result.Outcomes, o)
	}
	sort.Slice(result.Quarters, func(i, j int) bool { return result.Quarters[i] < result.Quarters[j] })
	result.CompletedAt = p.Clock.Now().UTC()

	p.Metrics.Row("processed", result.Processed)
	p.Metrics.Row("skipped", len(result.Skipped))
	p.Metrics.Row("filtered", result.Filtered)
	p.Metrics.Row("failed", result.Failed)
	p.Metrics.Batch(time.Since(started))

	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("skipped", len(result.Skipped)),
		attribute.Int("failed", result.Failed),
	)

	var batchErr error
	if len(keys) > 0 && unavailable == len(keys) {
		batchErr = fmt.Errorf("evaluate batch: all %d records failed: %w", len(keys), generic.ErrStoreUnavailable)
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, "store unavailable")
	}
	p.saveRun(ctx, result, RunCompleted, batchErr)

	log.Info("batch evaluated",
		zap.Int("rows", result.Rows),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("filtered", result.Filtered),
		zap.Int("failed", result.Failed),
		zap.Int("eligible", result.Eligible),
		zap.Duration("duration", time.Since(started)),
	)
	return result, batchErr
}

// applyKey folds every row of one key, in order. Processing of the key
// stops at the first failing row.
func (p *Processor) applyKey(ctx context.Context, key generic.RecordKey, rows []parsedRow, now time.Time) Outcome {
	ctx, span := p.Tracer.Start(ctx, "ingest.applyRecord", trace.WithAttributes(
		attribute.String("quarter", string(key.QuarterKey)),
		attribute.String("customer_id", key.ID),
	))
	defer span.End()

	out := Outcome{Key: key, QuarterKey: key.QuarterKey, CustomerID: key.ID}
	for _, pr := range rows {
		out.Rows++
		rec, ev, created, appended, attempts, err := p.applyRow(ctx, pr, now)
		out.Attempts += attempts
		if err != nil {
			span.RecordError(err)
			out.Err = err
			return out
		}
		out.Created = out.Created || created
		out.Appended = out.Appended || appended
		out.BonusEligible = rec.BonusEligible
		out.Reason = string(ev.Reason)
		out.History = rec.StatusHistory
	}
	span.SetAttributes(attribute.Bool("bonus_eligible", out.BonusEligible))
	return out
}

// applyRow runs the read-modify-write cycle for one row, retrying when a
// concurrent writer bumped the version in between.
func (p *Processor) applyRow(ctx context.Context, pr parsedRow, now time.Time) (rec generic.Record, ev generic.Evaluation, created, appended bool, attempts int, err error) {
	for attempts = 1; ; attempts++ {
		existing, err := p.Store.Get(ctx, pr.key)
		if err != nil && !errors.Is(err, generic.ErrRecordNotFound) {
			return rec, ev, false, false, attempts, &generic.RecordError{Key: pr.key, Op: "get", Err: err}
		}
		if err != nil {
			existing = nil
		}

		history, added := generic.MergeStatus(existing, pr.status, pr.firstPayment, now, pr.quarter.End())
		ev = generic.Evaluate(history, pr.quarter.End(), now)

		next := generic.Record{
			ID:            pr.key.ID,
			QuarterKey:    pr.key.QuarterKey,
			FirstPayment:  pr.firstPayment,
			Status:        pr.status,
			StatusHistory: history,
			BonusEligible: ev.Eligible,
			LastUpdated:   now,
			Metadata:      pr.metadata,
		}
		if existing != nil {
			next.Version = existing.Version
		}

		saved, err := p.Store.Upsert(ctx, next)
		if err == nil {
			return saved, ev, existing == nil, added, attempts, nil
		}
		if generic.IsRetryable(err) && attempts < p.maxAttempts() {
			p.Metrics.ConflictRetry()
			p.Logger.Debug("write conflict, retrying",
				zap.String("key", pr.key.String()), zap.Int("attempt", attempts))
			continue
		}
		return rec, ev, false, false, attempts, &generic.RecordError{Key: pr.key, Op: "upsert", Err: err}
	}
}

// =============================================================================
// RE-EVALUATION
// =============================================================================

// RescanResult summarizes Reevaluate.
type RescanResult struct {
	Quarter generic.QuarterKey `json:"quarter"`
	Scanned int                `json:"scanned"`
	Changed int                `json:"changed"`
	Failed  int                `json:"failed"`
}

// Reevaluate recomputes eligibility for every stored record of quarter as
// of now and writes the records whose result changed. Records still in an
// open Current run become eligible with time alone, without a new import.
func (p *Processor) Reevaluate(ctx context.Context, quarter generic.QuarterKey) (*RescanResult, error) {
	q, err := quarter.Quarter()
	if err != nil {
		return nil, err
	}
	quarter = q.Key()
	ctx, span := p.Tracer.Start(ctx, "ingest.Reevaluate",
		trace.WithAttributes(attribute.String("quarter", string(quarter))))
	defer span.End()

	records, err := p.Store.ListByQuarter(ctx, quarter, generic.RecordFilter{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reevaluate %s: %w", quarter, err)
	}

	now := p.Clock.Now().UTC()
	result := &RescanResult{Quarter: quarter, Scanned: len(records)}
	changed := make([]bool, len(records))
	failed := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i := range records {
		i := i
		g.Go(func() error {
			changed[i], failed[i] = p.rescanRecord(gctx, records[i], q, now)
			return nil
		})
	}
	_ = g.Wait()

	for i := range records {
		switch {
		case failed[i] != nil:
			result.Failed++
			p.Logger.Warn("rescan failed", zap.String("key", records[i].Key().String()), zap.Error(failed[i]))
		case changed[i]:
			result.Changed++
		}
	}

	p.Logger.Info("quarter re-evaluated",
		zap.String("quarter", string(quarter)),
		zap.Int("scanned", result.Scanned),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed),
	)
	if result.Scanned > 0 && result.Failed == result.Scanned && errors.Is(failed[0], generic.ErrStoreUnavailable) {
		return result, fmt.Errorf("reevaluate %s: %w", quarter, generic.ErrStoreUnavailable)
	}
	return result, nil
}

func (p *Processor) rescanRecord(ctx context.Context, rec generic.Record, q generic.Quarter, now time.Time) (bool, error) {
	for attempt := 1; ; attempt++ {
		ev := generic.Evaluate(rec.StatusHistory, q.End(), now)
		if ev.Eligible == rec.BonusEligible {
			return false, nil
		}
		rec.BonusEligible = ev.Eligible
		rec.LastUpdated = now
		_, err := p.Store.Upsert(ctx, rec)
		if err == nil {
			p.Metrics.Evaluation(ev.Eligible, string(ev.Reason))
			return true, nil
		}
		if !generic.IsRetryable(err) || attempt >= p.maxAttempts() {
			return false, &generic.RecordError{Key: rec.Key(), Op: "upsert", Err: err}
		}
		p.Metrics.ConflictRetry()
		fresh, err := p.Store.Get(ctx, rec.Key())
		if err != nil {
			return false, &generic.RecordError{Key: rec.Key(), Op: "get", Err: err}
		}
		rec = *fresh
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (p *Processor) saveRun(ctx context.Context, result *BatchResult, status string, runErr error) {
	runs, ok := p.Store.(generic.ImportRunStore)
	if !ok {
		return
	}
	run := generic.ImportRun{
		ID:        result.BatchID.String(),
		Source:    result.Source,
		Status:    status,
		Rows:      result.Rows,
		Processed: result.Processed,
		Skipped:   len(result.Skipped),
		Filtered:  result.Filtered,
		Failed:    result.Failed,
		Eligible:  result.Eligible,
		StartedAt: result.StartedAt,
	}
	if status != RunRunning {
		done := result.CompletedAt
		run.CompletedAt = &done
	}
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}
	if err := runs.SaveImportRun(ctx, run); err != nil {
		p.Logger.Warn("failed to save import run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func skipFor(row Row, err error) Skip {
	s := Skip{Line: row.Line, CustomerID: row.CustomerNumber, Reason: err.Error(), Err: err}
	var rowErr *generic.RowError
	if errors.As(err, &rowErr) {
		s.Line = rowErr.Line
		s.CustomerID = rowErr.CustomerID
		s.Reason = rowErr.Err.Error()
	}
	return s
}

func wrapUnavailable(err error) error {
	if errors.Is(err, generic.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", generic.ErrStoreUnavailable, err)
}
