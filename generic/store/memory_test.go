package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/generic/store"
)

func record(quarter generic.QuarterKey, id string, eligible bool) generic.Record {
	ts := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	return generic.Record{
		ID:            id,
		QuarterKey:    quarter,
		FirstPayment:  ts,
		Status:        generic.ParseStatus("Current"),
		StatusHistory: []generic.StatusEntry{{Status: generic.ParseStatus("Current"), Timestamp: ts}},
		BonusEligible: eligible,
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := store.NewMemory()

	_, err := m.Get(context.Background(), generic.RecordKey{QuarterKey: "Q1_2025", ID: "x"})

	assert.ErrorIs(t, err, generic.ErrRecordNotFound)
}

func TestMemory_UpsertBumpsVersion(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: A new record
	saved, err := m.Upsert(ctx, record("Q1_2025", "a", false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// WHEN: Updating from the saved version
	saved.BonusEligible = true
	updated, err := m.Upsert(ctx, saved)
	require.NoError(t, err)

	// THEN: The version advances and the change is visible
	assert.Equal(t, int64(2), updated.Version)
	got, err := m.Get(ctx, saved.Key())
	require.NoError(t, err)
	assert.True(t, got.BonusEligible)
}

func TestMemory_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	saved, err := m.Upsert(ctx, record("Q1_2025", "a", false))
	require.NoError(t, err)

	_, err = m.Upsert(ctx, saved)
	require.NoError(t, err)

	_, err = m.Upsert(ctx, saved)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	_, err = m.Upsert(ctx, record("Q1_2025", "a", false))
	assert.ErrorIs(t, err, generic.ErrConcurrentModification, "create over existing")
}

func TestMemory_ListByQuarter_CreationOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for _, r := range []generic.Record{
		record("Q1_2025", "c", true),
		record("Q1_2025", "a", false),
		record("Q2_2025", "z", true),
		record("Q1_2025", "b", true),
	} {
		_, err := m.Upsert(ctx, r)
		require.NoError(t, err)
	}

	all, err := m.ListByQuarter(ctx, "Q1_2025", generic.RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(all))

	eligible, err := m.ListByQuarter(ctx, "Q1_2025", generic.EligibleOnly())
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(eligible))
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	saved, err := m.Upsert(ctx, record("Q1_2025", "a", false))
	require.NoError(t, err)

	got, err := m.Get(ctx, saved.Key())
	require.NoError(t, err)
	got.StatusHistory[0].Status = generic.ParseStatus("Cancelled")

	again, err := m.Get(ctx, saved.Key())
	require.NoError(t, err)
	assert.True(t, again.StatusHistory[0].Status.IsCurrent())
}

func TestMemory_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	saved, err := m.Upsert(ctx, record("Q1_2025", "a", false))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Upsert(ctx, saved); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestMemory_ImportRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveImportRun(ctx, generic.ImportRun{ID: "1", Status: "running"}))
	require.NoError(t, m.SaveImportRun(ctx, generic.ImportRun{ID: "2", Status: "completed"}))
	require.NoError(t, m.SaveImportRun(ctx, generic.ImportRun{ID: "1", Status: "completed"}))

	runs, err := m.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2", runs[0].ID)
	assert.Equal(t, "completed", runs[1].Status)

	limited, err := m.ListImportRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func ids(records []generic.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
