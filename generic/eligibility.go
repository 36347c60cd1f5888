/*
eligibility.go - Continuous "Current" run detection

PURPOSE:
  Decides whether a customer's status history shows the account staying
  "Current" for at least 30 whole days, which qualifies the salesperson for
  the quarter's bonus. The result is a pure function of the history, the
  quarter end, and "now".

ALGORITHM (single forward scan, entry i paired with entry i+1):
  a. Current -> Current: if the pair spans >= 30 days, eligible. Otherwise
     drop the tracked run start.
  b. Current with no tracked start: the run starts here.
  c. Tracked start and the next entry is not Current: the run closed at the
     next entry. >= 30 days is eligible, otherwise drop the start.
  After the scan, a run still open is measured up to min(now, quarter end -
  30 days).

DAY COUNTING:
  Elapsed whole days (truncated), not calendar days. Exactly 30 days
  qualifies; 29 days 23 hours 59 minutes does not.

FAILURE SEMANTICS:
  The scan never fails. An entry with a zero timestamp ends any in-progress
  run and the scan continues. A history whose timestamps go backwards is
  ambiguous and evaluates to not eligible.

SEE ALSO:
  - ledger.go: Produces the sorted history scanned here
  - period.go: QualifyingDays, CompetitionGraceDays
*/
package generic

import "time"

// =============================================================================
// EVALUATION
// =============================================================================

// EligibilityReason explains an Evaluation.
type EligibilityReason string

const (
	ReasonCurrentPair     EligibilityReason = "current_pair"      // two Current entries >= 30 days apart
	ReasonClosedRun       EligibilityReason = "closed_run"        // run ended by a non-Current entry
	ReasonOpenRun         EligibilityReason = "open_run"          // run still Current at end of history
	ReasonNoQualifyingRun EligibilityReason = "no_qualifying_run" // every run shorter than 30 days
	ReasonEmptyHistory    EligibilityReason = "empty_history"
	ReasonUnordered       EligibilityReason = "unordered_history"
)

// Evaluation is the detailed outcome of the scan.
type Evaluation struct {
	Eligible bool
	Reason   EligibilityReason

	// RunStart and RunDays describe the qualifying run, or the longest
	// measured run when not eligible. RunStart is zero if none was measured.
	RunStart time.Time
	RunDays  int
}

// IsEligible reports whether history qualifies for the bonus of the quarter
// ending at quarterEnd, as of now.
func IsEligible(history []StatusEntry, quarterEnd, now time.Time) bool {
	return Evaluate(history, quarterEnd, now).Eligible
}

// Evaluate runs the continuous-Current scan and explains the result.
func Evaluate(history []StatusEntry, quarterEnd, now time.Time) Evaluation {
	if len(history) == 0 {
		return Evaluation{Reason: ReasonEmptyHistory}
	}
	if !IsSorted(history) {
		return Evaluation{Reason: ReasonUnordered}
	}

	var (
		runStart time.Time
		tracking bool
		longest  Evaluation
	)
	measured := func(start time.Time, days int) {
		if longest.RunStart.IsZero() || days > longest.RunDays {
			longest.RunStart, longest.RunDays = start, days
		}
	}

	for i := range history {
		current := history[i]
		var next *StatusEntry
		if i+1 < len(history) {
			next = &history[i+1]
		}

		if current.Timestamp.IsZero() || (next != nil && next.Timestamp.IsZero()) {
			tracking = false
			continue
		}

		if current.Status.IsCurrent() && next != nil && next.Status.IsCurrent() {
			days := DaysBetween(current.Timestamp, next.Timestamp)
			if days >= QualifyingDays {
				return Evaluation{Eligible: true, Reason: ReasonCurrentPair, RunStart: current.Timestamp, RunDays: days}
			}
			measured(current.Timestamp, days)
			tracking = false
		}

		if current.Status.IsCurrent() && !tracking {
			runStart, tracking = current.Timestamp, true
		}

		if tracking && next != nil && !next.Status.IsCurrent() {
			days := DaysBetween(runStart, next.Timestamp)
			if days >= QualifyingDays {
				return Evaluation{Eligible: true, Reason: ReasonClosedRun, RunStart: runStart, RunDays: days}
			}
			measured(runStart, days)
			tracking = false
		}
	}

	if tracking {
		// Latest instant by which a 30-day run must have started to close
		// before the backfill cutoff (quarter end + 30 days).
		windowEnd := AddDays(quarterEnd, -CompetitionGraceDays)
		end := now
		if now.After(windowEnd) {
			end = windowEnd
		}
		days := DaysBetween(runStart, end)
		if days >= QualifyingDays {
			return Evaluation{Eligible: true, Reason: ReasonOpenRun, RunStart: runStart, RunDays: days}
		}
		measured(runStart, days)
	}

	longest.Reason = ReasonNoQualifyingRun
	return longest
}

// =============================================================================
// EVALUATOR - Binds the scan to a clock
// =============================================================================

// Evaluator evaluates histories against the injected clock.
type Evaluator struct {
	Clock Clock
}

// NewEvaluator creates an evaluator. A nil clock uses the system clock.
func NewEvaluator(clock Clock) *Evaluator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Evaluator{Clock: clock}
}

// IsEligible evaluates history for the quarter ending at quarterEnd.
func (e *Evaluator) IsEligible(history []StatusEntry, quarterEnd time.Time) bool {
	return IsEligible(history, quarterEnd, e.Clock.Now())
}

// Evaluate returns the detailed evaluation as of the clock's now.
func (e *Evaluator) Evaluate(history []StatusEntry, quarterEnd time.Time) Evaluation {
	return Evaluate(history, quarterEnd, e.Clock.Now())
}
