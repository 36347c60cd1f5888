package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Column headers of the billing export.
const (
	ColCustomerNumber    = "Customer #"
	ColCustomer          = "Customer"
	ColState             = "State/Province"
	ColTypeOfLaw         = "Type of Law"
	ColLTV               = "LTV"
	ColCreated           = "Created"
	ColFirstPayment      = "First Payment"
	ColStatus            = "Status"
	ColTotal             = "Total"
	ColAdminUser         = "Admin User"
	ColSupportMember     = "Support Member"
	ColLead              = "Lead"
	ColCustomerID        = "Customer ID"
	ColSourceMedium      = "Source/Medium (Marketing)"
	ColAds               = "Ads?"
	ColInvoicedThisMonth = "Invoiced This Month"
)

var requiredColumns = []string{ColCustomerNumber, ColFirstPayment, ColStatus}

// ReadCSV parses a billing export. Columns are matched by header name, so
// order does not matter and unknown columns are ignored. Blank lines are
// skipped. Row.Line is the 1-based line of the record in the file.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty CSV: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		index[h] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("CSV is missing required column %q", col)
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		line, _ := cr.FieldPos(0)

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if isBlank(rec) {
			continue
		}

		rows = append(rows, Row{
			Line:              line,
			CustomerNumber:    get(ColCustomerNumber),
			Customer:          get(ColCustomer),
			State:             get(ColState),
			TypeOfLaw:         get(ColTypeOfLaw),
			LTV:               get(ColLTV),
			Created:           get(ColCreated),
			FirstPayment:      get(ColFirstPayment),
			Status:            get(ColStatus),
			Total:             get(ColTotal),
			SalesRep:          get(ColAdminUser),
			SupportMember:     get(ColSupportMember),
			Lead:              get(ColLead),
			CustomerID:        get(ColCustomerID),
			SourceMedium:      get(ColSourceMedium),
			Ads:               get(ColAds),
			InvoicedThisMonth: get(ColInvoicedThisMonth),
		})
	}
	return rows, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
