// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[generic.RecordKey]*entry
	seq     int64
	runs    []generic.ImportRun
}

type entry struct {
	seq    int64
	record generic.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[generic.RecordKey]*entry)}
}

// Get returns a copy of the stored record.
func (m *Memory) Get(_ context.Context, key generic.RecordKey) (*generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[key]
	if !ok {
		return nil, generic.ErrRecordNotFound
	}
	rec := clone(e.record)
	return &rec, nil
}

// Upsert writes rec when its Version matches the stored one (0 = create).
func (m *Memory) Upsert(_ context.Context, rec generic.Record) (generic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	e, exists := m.records[key]
	switch {
	case !exists && rec.Version != 0:
		return generic.Record{}, generic.ErrConcurrentModification
	case exists && e.record.Version != rec.Version:
		return generic.Record{}, generic.ErrConcurrentModification
	}

	rec = clone(rec)
	rec.Version++
	if exists {
		e.record = rec
	} else {
		m.seq++
		m.records[key] = &entry{seq: m.seq, record: rec}
	}
	return clone(rec), nil
}

// ListByQuarter returns matching records in creation order.
func (m *Memory) ListByQuarter(_ context.Context, quarter generic.QuarterKey, filter generic.RecordFilter) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*entry
	for k, e := range m.records {
		if k.QuarterKey == quarter && filter.Matches(e.record) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	result := make([]generic.Record, len(matched))
	for i, e := range matched {
		result[i] = clone(e.record)
	}
	return result, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// =============================================================================
// IMPORT RUNS
// =============================================================================

func (m *Memory) SaveImportRun(_ context.Context, run generic.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListImportRuns returns the most recent runs first.
func (m *Memory) ListImportRuns(_ context.Context, limit int) ([]generic.ImportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.ImportRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}

func clone(rec generic.Record) generic.Record {
	rec.StatusHistory = append([]generic.StatusEntry(nil), rec.StatusHistory...)
	return rec
}
