package generic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - A closed time interval
// =============================================================================

// Period is the interval [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + "]"
}

// =============================================================================
// QUARTER - The fiscal bucket every record belongs to
// =============================================================================

// CompetitionGraceDays is how long after quarter end a run may still close.
const CompetitionGraceDays = 30

// QualifyingDays is the minimum continuous "Current" run for a bonus.
const QualifyingDays = 30

// QuarterKey identifies a quarter as "Q<n>_<year>", e.g. "Q1_2025".
type QuarterKey string

// Quarter is a calendar quarter, computed in UTC.
type Quarter struct {
	Year   int
	Number int // 1-4
}

// QuarterOf returns the quarter containing t.
func QuarterOf(t time.Time) Quarter {
	t = t.UTC()
	return Quarter{Year: t.Year(), Number: (int(t.Month())-1)/3 + 1}
}

// ParseQuarterKey parses "Q3_2025". Surrounding whitespace and a lowercase q
// are tolerated.
func ParseQuarterKey(key string) (Quarter, error) {
	s := strings.ToUpper(strings.TrimSpace(key))
	if len(s) < 4 || s[0] != 'Q' || s[2] != '_' {
		return Quarter{}, fmt.Errorf("%w: %q", ErrInvalidQuarterKey, key)
	}
	n := int(s[1] - '0')
	if n < 1 || n > 4 {
		return Quarter{}, fmt.Errorf("%w: %q", ErrInvalidQuarterKey, key)
	}
	year, err := strconv.Atoi(s[3:])
	if err != nil || year < 1 {
		return Quarter{}, fmt.Errorf("%w: %q", ErrInvalidQuarterKey, key)
	}
	return Quarter{Year: year, Number: n}, nil
}

// Key returns the quarter key used as the store partition.
func (q Quarter) Key() QuarterKey {
	return QuarterKey(fmt.Sprintf("Q%d_%d", q.Number, q.Year))
}

func (q Quarter) String() string { return fmt.Sprintf("Q%d %d", q.Number, q.Year) }

// Start returns the first instant of the quarter.
func (q Quarter) Start() time.Time {
	return time.Date(q.Year, time.Month((q.Number-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last instant of the quarter.
func (q Quarter) End() time.Time {
	return q.Next().Start().Add(-time.Nanosecond)
}

// Next returns the following quarter.
func (q Quarter) Next() Quarter {
	if q.Number == 4 {
		return Quarter{Year: q.Year + 1, Number: 1}
	}
	return Quarter{Year: q.Year, Number: q.Number + 1}
}

// Previous returns the preceding quarter.
func (q Quarter) Previous() Quarter {
	if q.Number == 1 {
		return Quarter{Year: q.Year - 1, Number: 4}
	}
	return Quarter{Year: q.Year, Number: q.Number - 1}
}

// CompetitionWindow is [quarter start, quarter end + 30 days].
func (q Quarter) CompetitionWindow() Period {
	return Period{Start: q.Start(), End: CompetitionCutoff(q.End())}
}

// CompetitionCutoff is the backfill instant used for records first seen
// after their quarter closed.
func CompetitionCutoff(quarterEnd time.Time) time.Time {
	return AddDays(quarterEnd, CompetitionGraceDays)
}

// Quarter parses the key.
func (k QuarterKey) Quarter() (Quarter, error) { return ParseQuarterKey(string(k)) }

// Canonical validates the key and returns it in stored form, so "q1_2025 "
// and "Q1_2025" address the same records and cache entries.
func (k QuarterKey) Canonical() (QuarterKey, error) {
	q, err := k.Quarter()
	if err != nil {
		return "", err
	}
	return q.Key(), nil
}
