package leaderboard

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// PRIZE SPLITS
// =============================================================================

// SplitTable maps a leaderboard place (1-based) to its share of the pool.
type SplitTable map[int]decimal.Decimal

// DefaultSplits returns the stock 30/20/15/10/8/7/5/5 percent table.
func DefaultSplits() SplitTable {
	return SplitTable{
		1: decimal.RequireFromString("0.30"),
		2: decimal.RequireFromString("0.20"),
		3: decimal.RequireFromString("0.15"),
		4: decimal.RequireFromString("0.10"),
		5: decimal.RequireFromString("0.08"),
		6: decimal.RequireFromString("0.07"),
		7: decimal.RequireFromString("0.05"),
		8: decimal.RequireFromString("0.05"),
	}
}

// SplitsFrom builds a table from stored splits.
func SplitsFrom(splits []generic.Split) SplitTable {
	t := make(SplitTable, len(splits))
	for _, s := range splits {
		t[s.Place] = s.Percentage
	}
	return t
}

// Percentage returns the share for place. Places not in the table get 0.
func (t SplitTable) Percentage(place int) decimal.Decimal {
	if p, ok := t[place]; ok {
		return p
	}
	return decimal.Zero
}

// Splits returns the table ordered by place.
func (t SplitTable) Splits() []generic.Split {
	out := make([]generic.Split, 0, len(t))
	for place, pct := range t {
		out = append(out, generic.Split{Place: place, Percentage: pct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Place < out[j].Place })
	return out
}

// Sum adds every share.
func (t SplitTable) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range t {
		sum = sum.Add(p)
	}
	return sum
}

// Validate checks that places are positive, shares lie in [0, 1] and the
// shares sum to exactly 1. Build does not call it.
func (t SplitTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: table is empty", generic.ErrInvalidSplits)
	}
	one := decimal.NewFromInt(1)
	for place, p := range t {
		if place < 1 {
			return fmt.Errorf("%w: place %d must be >= 1", generic.ErrInvalidSplits, place)
		}
		if p.IsNegative() || p.GreaterThan(one) {
			return fmt.Errorf("%w: place %d share %s outside [0, 1]", generic.ErrInvalidSplits, place, p)
		}
	}
	if sum := t.Sum(); !sum.Equal(one) {
		return fmt.Errorf("%w: shares sum to %s, want 1", generic.ErrInvalidSplits, sum)
	}
	return nil
}
