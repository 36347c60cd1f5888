package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/generic/store"
	"github.com/warp/bonus-engine/ingest"
	"github.com/warp/bonus-engine/observability"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func newProcessor(s generic.Store, now time.Time) *ingest.Processor {
	p := ingest.NewProcessor(s, zap.NewNop())
	p.Clock = generic.FixedClock{At: now}
	p.Workers = 4
	return p
}

func row(id, firstPayment, status, rep string) ingest.Row {
	return ingest.Row{CustomerNumber: id, FirstPayment: firstPayment, Status: status, SalesRep: rep}
}

func outcomeFor(t *testing.T, res *ingest.BatchResult, id string) ingest.Outcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.CustomerID == id {
			return o
		}
	}
	t.Fatalf("no outcome for %s", id)
	return ingest.Outcome{}
}

// unavailableStore fails every call and is not a Pinger.
type unavailableStore struct{}

func (unavailableStore) Get(context.Context, generic.RecordKey) (*generic.Record, error) {
	return nil, generic.ErrStoreUnavailable
}

func (unavailableStore) Upsert(context.Context, generic.Record) (generic.Record, error) {
	return generic.Record{}, generic.ErrStoreUnavailable
}

func (unavailableStore) ListByQuarter(context.Context, generic.QuarterKey, generic.RecordFilter) ([]generic.Record, error) {
	return nil, generic.ErrStoreUnavailable
}

// downStore fails its ping.
type downStore struct{ unavailableStore }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

// conflictingStore loses the first n upserts to a simulated concurrent writer.
type conflictingStore struct {
	*store.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) Upsert(ctx context.Context, rec generic.Record) (generic.Record, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return generic.Record{}, generic.ErrConcurrentModification
	}
	c.mu.Unlock()
	return c.Memory.Upsert(ctx, rec)
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

func TestEvaluateBatch_NewCustomerDuringQuarter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	now := date(2025, time.February, 20)

	// GIVEN: A first sighting ten days after the first payment
	p := newProcessor(s, now)

	// WHEN: Importing
	res, err := p.EvaluateBatch(ctx, []ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})
	require.NoError(t, err)

	// THEN: The record is created with the bootstrap pair and is not yet eligible
	o := outcomeFor(t, res, "1001")
	assert.True(t, o.Created)
	assert.False(t, o.BonusEligible)
	assert.Equal(t, generic.QuarterKey("Q1_2025"), o.QuarterKey)
	require.Len(t, o.History, 2)
	assert.Equal(t, now, o.History[1].Timestamp)

	rec, err := s.Get(ctx, generic.RecordKey{QuarterKey: "Q1_2025", ID: "1001"})
	require.NoError(t, err)
	assert.Equal(t, "Dana", rec.Metadata.SalesRep)
	assert.Equal(t, now, rec.LastUpdated)
	assert.Equal(t, []generic.QuarterKey{"Q1_2025"}, res.Quarters)
}

func TestEvaluateBatch_FirstSeenAfterQuarterIsBackfilled(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s, date(2025, time.May, 15))

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})
	require.NoError(t, err)

	// Held until quarter end + 30 days, which is well over 30 days after Feb 10.
	o := outcomeFor(t, res, "1001")
	q := generic.Quarter{Year: 2025, Number: 1}
	assert.Equal(t, generic.CompetitionCutoff(q.End()), o.History[1].Timestamp)
	assert.True(t, o.BonusEligible)
	assert.Equal(t, string(generic.ReasonCurrentPair), o.Reason)
}

// =============================================================================
// MERGING
// =============================================================================

func TestEvaluateBatch_RowsForSameKeyMergeInOrder(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s, date(2025, time.February, 20))

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{
		row("1001", "Feb 10, 2025", "Current", "Dana"),
		row("1002", "Feb 11, 2025", "Current", "Eli"),
		row("1001", "Feb 10, 2025", "Cancelled", "Dana"),
	})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "1001", res.Outcomes[0].CustomerID, "outcomes follow first occurrence")
	o := res.Outcomes[0]
	assert.Equal(t, 2, o.Rows)
	assert.True(t, o.Appended)
	require.Len(t, o.History, 3)
	assert.Equal(t, "Cancelled", o.History[2].Status.String())
	assert.Equal(t, 2, res.Processed)
}

func TestEvaluateBatch_UnchangedStatusAppendsNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	_, err := newProcessor(s, date(2025, time.February, 20)).EvaluateBatch(ctx,
		[]ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})
	require.NoError(t, err)

	res, err := newProcessor(s, date(2025, time.February, 25)).EvaluateBatch(ctx,
		[]ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})
	require.NoError(t, err)

	o := outcomeFor(t, res, "1001")
	assert.False(t, o.Created)
	assert.False(t, o.Appended)
	assert.Len(t, o.History, 2)
}

// =============================================================================
// INPUT ERRORS
// =============================================================================

func TestEvaluateBatch_InvalidRowsAreSkipped(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s, date(2025, time.February, 20))

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{
		row("1001", "not a date", "Current", "Dana"),
		row("", "Feb 10, 2025", "Current", "Dana"),
		row("1003", "Feb 10, 2025", "Current", "Dana"),
	})
	require.NoError(t, err)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, 1, res.Skipped[0].Line)
	assert.Equal(t, "1001", res.Skipped[0].CustomerID)
	assert.ErrorIs(t, res.Skipped[0].Err, generic.ErrInvalidFirstPayment)
	assert.ErrorIs(t, res.Skipped[1].Err, generic.ErrMissingCustomerID)
	assert.Equal(t, 1, res.Processed)
}

func TestEvaluateBatch_CurrentQuarterOnly(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s, date(2025, time.February, 20))
	p.CurrentQuarterOnly = true

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{
		row("1001", "Feb 10, 2025", "Current", "Dana"),
		row("1002", "Nov 3, 2024", "Current", "Dana"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []generic.QuarterKey{"Q1_2025"}, res.Quarters)
}

// =============================================================================
// STORE FAILURES
// =============================================================================

func TestEvaluateBatch_PingFailureIsSystemic(t *testing.T) {
	p := newProcessor(downStore{}, date(2025, time.February, 20))

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
}

func TestEvaluateBatch_AllRecordsUnavailableIsSystemic(t *testing.T) {
	p := newProcessor(unavailableStore{}, date(2025, time.February, 20))

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{
		row("1001", "Feb 10, 2025", "Current", "Dana"),
		row("1002", "Feb 10, 2025", "Current", "Dana"),
	})

	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Failed)
	for _, o := range res.Outcomes {
		var recErr *generic.RecordError
		require.ErrorAs(t, o.Err, &recErr)
		assert.Equal(t, "get", recErr.Op)
		assert.NotEmpty(t, o.Error)
	}
}

func TestEvaluateBatch_RetriesConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := &conflictingStore{Memory: store.NewMemory(), conflicts: 2}
	p := newProcessor(s, date(2025, time.February, 20))
	p.Metrics = observability.NewMetrics(reg)

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})
	require.NoError(t, err)

	o := outcomeFor(t, res, "1001")
	assert.NoError(t, o.Err)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, float64(2), testutil.ToFloat64(p.Metrics.ConflictRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Metrics.RowsTotal.WithLabelValues("processed")))
}

func TestEvaluateBatch_ExhaustedRetriesFailOnlyThatRecord(t *testing.T) {
	s := &conflictingStore{Memory: store.NewMemory(), conflicts: 3}
	p := newProcessor(s, date(2025, time.February, 20))

	res, err := p.EvaluateBatch(context.Background(), []ingest.Row{row("1001", "Feb 10, 2025", "Current", "Dana")})

	// A conflict is not a store outage: the batch itself succeeds.
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, outcomeFor(t, res, "1001").Err, generic.ErrConcurrentModification)
}

func TestEvaluateBatch_ConcurrentBatchesOnSameKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	now := date(2025, time.February, 20)

	// GIVEN: Two importers racing on a customer nobody has seen yet
	var wg sync.WaitGroup
	results := make([]*ingest.BatchResult, 2)
	for i, status := range []string{"Current", "Past Due"} {
		i, status := i, status
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := newProcessor(s, now).EvaluateBatch(ctx, []ingest.Row{row("1001", "Feb 10, 2025", status, "Dana")})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	// THEN: Both writes land; neither overwrote the other blindly
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 0, res.Failed)
	}
	rec, err := s.Get(ctx, generic.RecordKey{QuarterKey: "Q1_2025", ID: "1001"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Len(t, rec.StatusHistory, 3)
}

// =============================================================================
// AUDIT AND RESCAN
// =============================================================================

func TestEvaluateBatch_SavesImportRun(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	p := newProcessor(s, date(2025, time.February, 20))
	p.Source = ingest.SourceCLI

	res, err := p.EvaluateBatch(ctx, []ingest.Row{
		row("1001", "Feb 10, 2025", "Current", "Dana"),
		row("1002", "bad", "Current", "Dana"),
	})
	require.NoError(t, err)

	runs, err := s.ListImportRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.BatchID.String(), runs[0].ID)
	assert.Equal(t, ingest.SourceCLI, runs[0].Source)
	assert.Equal(t, ingest.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Processed)
	assert.Equal(t, 1, runs[0].Skipped)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestReevaluate_OpenRunBecomesEligibleWithTime(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	// GIVEN: Imported eight days after the first payment, not yet eligible
	res, err := newProcessor(s, date(2025, time.January, 10)).EvaluateBatch(ctx,
		[]ingest.Row{row("1001", "Jan 2, 2025", "Current", "Dana")})
	require.NoError(t, err)
	require.False(t, outcomeFor(t, res, "1001").BonusEligible)

	// WHEN: Rescanning seven weeks later without any new import
	scan, err := newProcessor(s, date(2025, time.March, 1)).Reevaluate(ctx, "Q1_2025")
	require.NoError(t, err)

	// THEN: The still-open Current run qualifies
	assert.Equal(t, 1, scan.Scanned)
	assert.Equal(t, 1, scan.Changed)
	rec, err := s.Get(ctx, generic.RecordKey{QuarterKey: "Q1_2025", ID: "1001"})
	require.NoError(t, err)
	assert.True(t, rec.BonusEligible)

	// A second scan has nothing to change.
	scan, err = newProcessor(s, date(2025, time.March, 1)).Reevaluate(ctx, "Q1_2025")
	require.NoError(t, err)
	assert.Equal(t, 0, scan.Changed)
}

func TestReevaluate_InvalidQuarter(t *testing.T) {
	_, err := newProcessor(store.NewMemory(), date(2025, time.March, 1)).Reevaluate(context.Background(), "2025-Q1")

	assert.ErrorIs(t, err, generic.ErrInvalidQuarterKey)
}
