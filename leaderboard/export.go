package leaderboard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/warp/bonus-engine/generic"
)

// CSVHeader is the first line of every export.
const CSVHeader = "Salesman,Customer,PaidDate,CreateDate,Customer ID"

// isoMillis matches JavaScript's Date.toISOString, which payroll tooling expects.
const isoMillis = "2006-01-02T15:04:05.000Z"

// WriteCSV writes one line per eligible, non-excluded record, grouped by
// sales rep in first-occurrence order. Unlike Build there is no truncation:
// every rep is exported.
//
// Text fields are JSON string literals (double-quoted, backslash-escaped);
// the customer id is written raw. Lines are joined by "\n" with no trailing
// newline.
func WriteCSV(w io.Writer, records []generic.Record, cfg Config) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader); err != nil {
		return err
	}

	for _, g := range groupByRep(records, cfg) {
		for _, rec := range g.records {
			paid := ""
			if !rec.FirstPayment.IsZero() {
				paid = rec.FirstPayment.UTC().Format(isoMillis)
			}
			bw.WriteByte('\n')
			for _, field := range []string{g.rep, rec.Metadata.Customer, paid, rec.Metadata.Created} {
				q, err := quote(field)
				if err != nil {
					return err
				}
				bw.Write(q)
				bw.WriteByte(',')
			}
			bw.WriteString(rec.ID)
		}
	}

	return bw.Flush()
}

// quote renders s as a JSON string without HTML escaping.
func quote(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ExportFilename is the download name for a quarter's export.
func ExportFilename(quarter generic.QuarterKey, now time.Time) string {
	return "bonus_blast_results_" + string(quarter) + "_" + now.UTC().Format("20060102") + ".csv"
}
