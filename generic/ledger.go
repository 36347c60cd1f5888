/*
ledger.go - Status history tracker

PURPOSE:
  Merges a newly observed billing status into a customer's status timeline.
  The timeline is the only evidence the eligibility scan has about how long
  an account stayed "Current", so it is append-on-change and always sorted.

CRITICAL INVARIANTS:
  1. NEVER EMPTY: a stored record always has at least the two bootstrap entries
  2. SORTED: entries are ascending by timestamp after every merge
  3. CHANGES ONLY: an unchanged status never appends (merge is idempotent)

BOOTSTRAP ENTRIES (an approximation, not a guarantee):
  Billing statuses arrive in sporadic batch imports, so the engine never knows
  what happened between two imports. On first sight of a customer we assume
  the observed status has held since the first payment, and record it twice:
  1. {status, first payment date}
  2. {status, now}, or {status, quarter end + 30 days} when the import is a
     backfill that runs after the quarter already closed
  Durations reconstructed from these points are estimates from sparse samples.

EXAMPLE FLOW:
  1. First import, Current, first payment Mar 1, now Mar 20:
     [Current@Mar 1, Current@Mar 20]
  2. Import on Apr 10, still Current: unchanged
  3. Import on Apr 15, Cancelled: [Current@Mar 1, Current@Mar 20, Cancelled@Apr 15]

SEE ALSO:
  - eligibility.go: Consumes the merged history
  - ingest/processor.go: Calls MergeStatus once per observed row
*/
package generic

import (
	"sort"
	"time"
)

// =============================================================================
// TRACKER
// =============================================================================

// MergeStatus folds one observation into the existing record's history and
// returns the new history plus whether an entry was appended.
//
// existing == nil means the customer has not been seen in this quarter.
// The returned slice never aliases existing.StatusHistory.
func MergeStatus(existing *Record, observed Status, firstPayment, now, quarterEnd time.Time) ([]StatusEntry, bool) {
	if existing == nil {
		held := now
		if now.After(quarterEnd) {
			held = CompetitionCutoff(quarterEnd)
		}
		history := []StatusEntry{
			{Status: observed, Timestamp: firstPayment},
			{Status: observed, Timestamp: held},
		}
		SortHistory(history)
		return history, true
	}

	history := make([]StatusEntry, len(existing.StatusHistory), len(existing.StatusHistory)+1)
	copy(history, existing.StatusHistory)

	appended := false
	if !observed.Equal(existing.Status) {
		history = append(history, StatusEntry{Status: observed, Timestamp: now})
		appended = true
	}

	SortHistory(history)
	return history, appended
}

// SortHistory orders entries ascending by timestamp. The sort is stable so
// entries sharing a timestamp keep their insertion order. Entries with a
// zero timestamp keep their index.
func SortHistory(history []StatusEntry) {
	var (
		slots []int
		dated []StatusEntry
	)
	for i, e := range history {
		if e.Timestamp.IsZero() {
			continue
		}
		slots = append(slots, i)
		dated = append(dated, e)
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Timestamp.Before(dated[j].Timestamp)
	})
	for n, i := range slots {
		history[i] = dated[n]
	}
}

// IsSorted reports whether non-zero timestamps are non-decreasing.
// Zero timestamps (undecodable entries) are ignored.
func IsSorted(history []StatusEntry) bool {
	var last time.Time
	for _, e := range history {
		if e.Timestamp.IsZero() {
			continue
		}
		if !last.IsZero() && e.Timestamp.Before(last) {
			return false
		}
		last = e.Timestamp
	}
	return true
}
