package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
)

func TestQuarterOf(t *testing.T) {
	tests := []struct {
		at   time.Time
		want generic.QuarterKey
	}{
		{time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), "Q1_2025"},
		{time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC), "Q1_2025"},
		{time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), "Q2_2025"},
		{time.Date(2025, time.September, 15, 0, 0, 0, 0, time.UTC), "Q3_2025"},
		{time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC), "Q4_2024"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generic.QuarterOf(tt.at).Key(), tt.at.String())
	}
}

func TestQuarterOf_UsesUTC(t *testing.T) {
	// 2025-04-01 01:00 in UTC+2 is still March 31 in UTC.
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2025, time.April, 1, 1, 0, 0, 0, loc)

	assert.Equal(t, generic.QuarterKey("Q1_2025"), generic.QuarterOf(ts).Key())
}

func TestParseQuarterKey(t *testing.T) {
	q, err := generic.ParseQuarterKey(" q3_2025 ")
	require.NoError(t, err)
	assert.Equal(t, generic.Quarter{Year: 2025, Number: 3}, q)

	for _, bad := range []string{"", "Q5_2025", "Q0_2025", "Q1-2025", "Q1_", "Q1_20x5", "2025Q1"} {
		_, err := generic.ParseQuarterKey(bad)
		assert.True(t, errors.Is(err, generic.ErrInvalidQuarterKey), bad)
	}
}

func TestQuarterKey_Canonical(t *testing.T) {
	for _, in := range []generic.QuarterKey{"Q1_2025", "q1_2025", " Q1_2025\t"} {
		got, err := in.Canonical()
		require.NoError(t, err, string(in))
		assert.Equal(t, generic.QuarterKey("Q1_2025"), got, string(in))
	}

	_, err := generic.QuarterKey("q9_2025").Canonical()
	assert.True(t, errors.Is(err, generic.ErrInvalidQuarterKey))
}

func TestQuarter_Bounds(t *testing.T) {
	q := generic.Quarter{Year: 2025, Number: 4}

	assert.Equal(t, time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC), q.Start())
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), q.End())
	assert.Equal(t, generic.Quarter{Year: 2026, Number: 1}, q.Next())
	assert.Equal(t, generic.Quarter{Year: 2024, Number: 4}, generic.Quarter{Year: 2025, Number: 1}.Previous())
}

func TestQuarter_CompetitionWindow(t *testing.T) {
	q := generic.Quarter{Year: 2025, Number: 1}
	w := q.CompetitionWindow()

	assert.Equal(t, q.Start(), w.Start)
	assert.Equal(t, generic.AddDays(q.End(), 30), w.End)
	assert.True(t, w.Contains(time.Date(2025, time.April, 30, 12, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDaysBetween_Truncates(t *testing.T) {
	start := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, generic.DaysBetween(start, start.Add(23*time.Hour)))
	assert.Equal(t, 1, generic.DaysBetween(start, start.Add(24*time.Hour)))
	assert.Equal(t, 29, generic.DaysBetween(start, start.Add(30*generic.Day-time.Second)))
	assert.Equal(t, -2, generic.DaysBetween(start, start.Add(-48*time.Hour)))
}

func TestParseFirstPayment(t *testing.T) {
	got, err := generic.ParseFirstPayment("Feb 11, 2015")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, time.February, 11, 0, 0, 0, 0, time.UTC), got)

	_, err = generic.ParseFirstPayment("2015-02-11")
	var fpErr *generic.FirstPaymentError
	require.ErrorAs(t, err, &fpErr)
	assert.Equal(t, "2015-02-11", fpErr.Value)
	assert.ErrorIs(t, err, generic.ErrInvalidFirstPayment)
	assert.True(t, generic.IsClientError(err))
}
