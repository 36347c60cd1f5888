package leaderboard_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/leaderboard"
)

func TestWriteCSV(t *testing.T) {
	// GIVEN: Two reps, one excluded rep, one ineligible record
	fp := time.Date(2025, time.February, 10, 15, 4, 5, 0, time.UTC)
	records := []generic.Record{
		{ID: "1001", BonusEligible: true, FirstPayment: fp,
			Metadata: generic.Metadata{SalesRep: "Dana", Customer: `Smith & "Sons"`, Created: "Jan 3, 2025"}},
		{ID: "1002", BonusEligible: true, FirstPayment: fp,
			Metadata: generic.Metadata{SalesRep: "Eli", Customer: "Acme", Created: "Jan 4, 2025"}},
		{ID: "1003", BonusEligible: true, FirstPayment: fp,
			Metadata: generic.Metadata{SalesRep: "Dana", Customer: "Beta <LLC>", Created: "Jan 5, 2025"}},
		{ID: "1004", BonusEligible: false, FirstPayment: fp,
			Metadata: generic.Metadata{SalesRep: "Dana", Customer: "Gone"}},
		{ID: "1005", BonusEligible: true, FirstPayment: fp,
			Metadata: generic.Metadata{SalesRep: "Ops", Customer: "Internal"}},
	}
	cfg := leaderboard.DefaultConfig()
	cfg.ExcludedReps = []string{"ops"}

	// WHEN: Exporting
	var buf bytes.Buffer
	require.NoError(t, leaderboard.WriteCSV(&buf, records, cfg))

	// THEN: Grouped by rep in first-occurrence order, JSON-quoted text, raw id
	want := strings.Join([]string{
		"Salesman,Customer,PaidDate,CreateDate,Customer ID",
		`"Dana","Smith & \"Sons\"","2025-02-10T15:04:05.000Z","Jan 3, 2025",1001`,
		`"Dana","Beta <LLC>","2025-02-10T15:04:05.000Z","Jan 5, 2025",1003`,
		`"Eli","Acme","2025-02-10T15:04:05.000Z","Jan 4, 2025",1002`,
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_NoTruncation(t *testing.T) {
	var records []generic.Record
	for _, rep := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		records = append(records, deal(rep, true))
	}
	cfg := leaderboard.DefaultConfig()
	cfg.MaxParticipants = 2

	var buf bytes.Buffer
	require.NoError(t, leaderboard.WriteCSV(&buf, records, cfg))

	assert.Len(t, strings.Split(buf.String(), "\n"), 11)
}

func TestWriteCSV_EmptyIsHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, leaderboard.WriteCSV(&buf, nil, leaderboard.DefaultConfig()))

	assert.Equal(t, leaderboard.CSVHeader, buf.String())
}
