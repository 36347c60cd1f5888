/*
Package leaderboard ranks salespeople by their bonus-eligible accounts.

PURPOSE:
  Turns a quarter's eligible records into the ranked list, podium and prize
  amounts shown on the bonus board, and into the CSV handed to payroll.

AGGREGATION (Build):
  1. Drop records that are not eligible, have a blank sales rep, or whose
     rep is on the exclusion list (trimmed, case-insensitive).
  2. Group by rep in order of first occurrence.
  3. Keep the first maxParticipants groups, THEN sort them by deal count,
     descending. A rep with many deals who first appears late can be cut
     before the sort. This ordering is long-standing behaviour and is kept
     deliberately; see TestBuild_TruncatesBeforeSorting.
  4. TotalPaidAccounts counts every grouped record, shown or not.
  5. Podium slots are laid out for display as places 2, 1, 3.
  6. Prize for rank n = TotalPaidAccounts x AccountValue x split[n].

SEE ALSO:
  - splits.go: Prize split table
  - export.go: CSV export
  - service.go: Cached per-quarter access
*/
package leaderboard

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the leaderboard settings.
type Config struct {
	AccountValue    decimal.Decimal
	MaxParticipants int
	Splits          SplitTable
	ExcludedReps    []string
}

// DefaultConfig is $100 per account, 8 participants, default splits.
func DefaultConfig() Config {
	return Config{
		AccountValue:    decimal.NewFromInt(100),
		MaxParticipants: 8,
		Splits:          DefaultSplits(),
	}
}

// Excludes reports whether rep is on the exclusion list.
func (c Config) Excludes(rep string) bool {
	rep = strings.TrimSpace(rep)
	for _, ex := range c.ExcludedReps {
		if strings.EqualFold(strings.TrimSpace(ex), rep) {
			return true
		}
	}
	return false
}

// =============================================================================
// RESULT
// =============================================================================

// Deal is one eligible account credited to a salesperson.
type Deal struct {
	CustomerID   string    `json:"customer_id"`
	Customer     string    `json:"customer"`
	FirstPayment time.Time `json:"first_payment"`
	Created      string    `json:"created"`
}

// Standing is one ranked salesperson.
type Standing struct {
	Rank      int             `json:"rank"`
	SalesRep  string          `json:"sales_rep"`
	DealCount int             `json:"deal_count"`
	Deals     []Deal          `json:"deals"`
	Prize     decimal.Decimal `json:"prize"`
}

// PodiumSlot is one of the three podium positions. Standing is nil when
// fewer than Place salespeople are ranked.
type PodiumSlot struct {
	Place    int       `json:"place"`
	Standing *Standing `json:"standing"`
}

// Leaderboard is the aggregated view of one quarter.
type Leaderboard struct {
	Standings         []Standing      `json:"standings"`
	Podium            []PodiumSlot    `json:"podium"`
	TotalPaidAccounts int             `json:"total_paid_accounts"`
	Pool              decimal.Decimal `json:"pool"`
}

// =============================================================================
// BUILD
// =============================================================================

type group struct {
	rep     string
	records []generic.Record
}

// groupByRep applies the eligibility, blank and exclusion filters and groups
// the survivors by sales rep in first-occurrence order.
func groupByRep(records []generic.Record, cfg Config) []*group {
	var groups []*group
	index := make(map[string]*group)
	for _, rec := range records {
		if !rec.BonusEligible {
			continue
		}
		rep := strings.TrimSpace(rec.Metadata.SalesRep)
		if rep == "" || cfg.Excludes(rep) {
			continue
		}
		g, ok := index[rep]
		if !ok {
			g = &group{rep: rep}
			index[rep] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
	}
	return groups
}

// Build aggregates records into a leaderboard. A non-positive
// maxParticipants shows every group.
func Build(records []generic.Record, cfg Config, maxParticipants int) Leaderboard {
	groups := groupByRep(records, cfg)

	total := 0
	for _, g := range groups {
		total += len(g.records)
	}

	shown := groups
	if maxParticipants > 0 && len(shown) > maxParticipants {
		shown = shown[:maxParticipants]
	}
	sort.SliceStable(shown, func(i, j int) bool {
		return len(shown[i].records) > len(shown[j].records)
	})

	pool := decimal.NewFromInt(int64(total)).Mul(cfg.AccountValue)

	lb := Leaderboard{
		Standings:         make([]Standing, len(shown)),
		TotalPaidAccounts: total,
		Pool:              pool,
	}
	for i, g := range shown {
		rank := i + 1
		lb.Standings[i] = Standing{
			Rank:      rank,
			SalesRep:  g.rep,
			DealCount: len(g.records),
			Deals:     dealsOf(g.records),
			Prize:     pool.Mul(cfg.Splits.Percentage(rank)),
		}
	}

	lb.Podium = make([]PodiumSlot, 0, 3)
	for _, place := range []int{2, 1, 3} {
		slot := PodiumSlot{Place: place}
		if place <= len(lb.Standings) {
			slot.Standing = &lb.Standings[place-1]
		}
		lb.Podium = append(lb.Podium, slot)
	}

	return lb
}

func dealsOf(records []generic.Record) []Deal {
	deals := make([]Deal, len(records))
	for i, r := range records {
		deals[i] = Deal{
			CustomerID:   r.ID,
			Customer:     r.Metadata.Customer,
			FirstPayment: r.FirstPayment,
			Created:      r.Metadata.Created,
		}
	}
	return deals
}
