package generic

import (
	"time"
)

// =============================================================================
// CLOCK - "now" is an input to eligibility, so it is injected
// =============================================================================

// Day is the unit of every duration rule in the engine.
const Day = 24 * time.Hour

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Used by tests and replays.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the whole days elapsed from `from` to `to`, truncated.
// This is elapsed time, not calendar days: 29 days 23:59 counts as 29.
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from) / Day)
}

// AddDays shifts t by n 24-hour days.
func AddDays(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * Day)
}

// FirstPaymentLayout is the billing export's date format, e.g. "Feb 11, 2015".
const FirstPaymentLayout = "Jan 2, 2006"

// ParseFirstPayment parses a first-payment date from the billing export.
func ParseFirstPayment(s string) (time.Time, error) {
	t, err := time.Parse(FirstPaymentLayout, s)
	if err != nil {
		return time.Time{}, &FirstPaymentError{Value: s, Err: err}
	}
	return t.UTC(), nil
}
