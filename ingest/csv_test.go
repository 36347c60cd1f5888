package ingest_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/ingest"
)

const export = `Customer #,Customer,State/Province,Type of Law,LTV,Created,First Payment,Status,Total,Admin User,Support Member,Lead,Customer ID,Source/Medium (Marketing),Ads?,Invoiced This Month
1001,"Smith & Co, LLP",TX,Family,1200,"Jan 5, 2025 at 12:00:00 AM","Jan 10, 2025",Current,300,Dana,Sam,Referral,C-1,google / cpc,Yes,No

1002,Jones Law,CA,Criminal,800,"Jan 6, 2025 at 12:00:00 AM","Feb 3, 2025",Past Due,150, Eli ,Sam,Web,C-2,direct,No,Yes
`

func TestReadCSV_MapsColumnsByHeader(t *testing.T) {
	rows, err := ingest.ReadCSV(strings.NewReader(export))
	require.NoError(t, err)

	// Blank line skipped, quoted commas preserved
	require.Len(t, rows, 2)
	assert.Equal(t, "1001", rows[0].CustomerNumber)
	assert.Equal(t, "Smith & Co, LLP", rows[0].Customer)
	assert.Equal(t, "Jan 10, 2025", rows[0].FirstPayment)
	assert.Equal(t, "Dana", rows[0].SalesRep)
	assert.Equal(t, "google / cpc", rows[0].SourceMedium)
	assert.Equal(t, 2, rows[0].Line)

	assert.Equal(t, "Past Due", rows[1].Status)
	assert.Equal(t, "Eli", rows[1].SalesRep)
	assert.Equal(t, 4, rows[1].Line)
}

func TestReadCSV_ColumnOrderDoesNotMatter(t *testing.T) {
	in := "Status,First Payment,Customer #\nCurrent,\"Mar 1, 2025\",7\n"

	rows, err := ingest.ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0].CustomerNumber)
	assert.Equal(t, "Current", rows[0].Status)
	assert.Empty(t, rows[0].SalesRep)
}

func TestReadCSV_StripsByteOrderMark(t *testing.T) {
	in := "\uFEFFCustomer #,First Payment,Status\n7,\"Mar 1, 2025\",Current\n"

	rows, err := ingest.ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0].CustomerNumber)
}

func TestReadCSV_MissingRequiredColumn(t *testing.T) {
	_, err := ingest.ReadCSV(strings.NewReader("Customer #,Status\n1,Current\n"))

	assert.ErrorContains(t, err, "First Payment")
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ingest.ReadCSV(strings.NewReader(""))

	assert.Error(t, err)
}
