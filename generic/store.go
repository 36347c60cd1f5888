/*
store.go - Persistence interfaces for records, settings and import runs

PURPOSE:
  Defines the interface between the engine and the database. The store is a
  key-value space keyed by (quarter_key, customer_id) with merge semantics on
  write and a per-quarter query with an equality filter on bonus_eligible.

KEY INTERFACES:
  Store:          Record get / optimistic upsert / list by quarter
  SettingsStore:  General settings, prize splits, excluded sales reps
  ImportRunStore: Audit of import batches

OPTIMISTIC CONCURRENCY:
  Upsert compares Record.Version with the stored version:
  - Version 0 creates the record; fails if it already exists
  - Version N updates the record only if the stored version is still N
  On mismatch it returns ErrConcurrentModification and the caller re-reads,
  re-merges and retries. This gives at-most-one writer per key without locks.

ORDERING:
  ListByQuarter returns records in creation order. The leaderboard groups
  sales reps by first occurrence, so this order is observable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ingest/processor.go: Read-modify-write loop using Store
  - leaderboard/service.go: Reads eligible records per quarter
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Record persistence
// =============================================================================

// Store persists customer records.
type Store interface {
	// Get returns the record for key or ErrRecordNotFound.
	Get(ctx context.Context, key RecordKey) (*Record, error)

	// Upsert writes rec if rec.Version matches the stored version
	// (0 = create). On success the stored version is rec.Version+1.
	Upsert(ctx context.Context, rec Record) (Record, error)

	// ListByQuarter returns the quarter's records in creation order.
	ListByQuarter(ctx context.Context, quarter QuarterKey, filter RecordFilter) ([]Record, error)
}

// RecordFilter narrows ListByQuarter. Nil fields do not filter.
type RecordFilter struct {
	BonusEligible *bool
}

// Matches reports whether rec passes the filter.
func (f RecordFilter) Matches(rec Record) bool {
	if f.BonusEligible != nil && rec.BonusEligible != *f.BonusEligible {
		return false
	}
	return true
}

// EligibleOnly is the filter used by the leaderboard.
func EligibleOnly() RecordFilter {
	t := true
	return RecordFilter{BonusEligible: &t}
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// IMPORT RUNS - Audit of ingestion batches
// =============================================================================

// ImportRun records the outcome of one import batch.
type ImportRun struct {
	ID          string
	Source      string // "api", "cli", "rescan"
	Status      string // "running", "completed", "failed"
	Rows        int
	Processed   int
	Skipped     int
	Filtered    int
	Failed      int
	Eligible    int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ImportRunStore is implemented by stores that keep an import audit trail.
type ImportRunStore interface {
	SaveImportRun(ctx context.Context, run ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error)
}
