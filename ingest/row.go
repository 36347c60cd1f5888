package ingest

import (
	"strings"
	"time"

	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// ROW - One line of the billing export
// =============================================================================

// Row is one raw billing record as exported by the billing system. Every
// field is text; only CustomerNumber, FirstPayment and Status are read by
// the engine, the rest is carried as metadata.
type Row struct {
	Line              int    `json:"line,omitempty"`
	CustomerNumber    string `json:"customer_number"`
	Customer          string `json:"customer"`
	State             string `json:"state"`
	TypeOfLaw         string `json:"type_of_law"`
	LTV               string `json:"ltv"`
	Created           string `json:"created"`
	FirstPayment      string `json:"first_payment"`
	Status            string `json:"status"`
	Total             string `json:"total"`
	SalesRep          string `json:"sales_rep"`
	SupportMember     string `json:"support_member"`
	Lead              string `json:"lead"`
	CustomerID        string `json:"customer_id"`
	SourceMedium      string `json:"source_medium"`
	Ads               string `json:"ads"`
	InvoicedThisMonth string `json:"invoiced_this_month"`
}

// parsedRow is a Row that passed validation.
type parsedRow struct {
	line         int
	key          generic.RecordKey
	quarter      generic.Quarter
	firstPayment time.Time
	status       generic.Status
	metadata     generic.Metadata
}

// parse validates the row. Errors are *generic.RowError.
func (r Row) parse() (parsedRow, error) {
	id := strings.TrimSpace(r.CustomerNumber)
	if id == "" {
		return parsedRow{}, &generic.RowError{Line: r.Line, Err: generic.ErrMissingCustomerID}
	}

	fp, err := generic.ParseFirstPayment(strings.TrimSpace(r.FirstPayment))
	if err != nil {
		return parsedRow{}, &generic.RowError{Line: r.Line, CustomerID: id, Err: err}
	}

	q := generic.QuarterOf(fp)
	return parsedRow{
		line:         r.Line,
		key:          generic.RecordKey{QuarterKey: q.Key(), ID: id},
		quarter:      q,
		firstPayment: fp,
		status:       generic.ParseStatus(r.Status),
		metadata: generic.Metadata{
			Customer:          r.Customer,
			State:             r.State,
			TypeOfLaw:         r.TypeOfLaw,
			LTV:               r.LTV,
			Created:           r.Created,
			Total:             r.Total,
			SalesRep:          strings.TrimSpace(r.SalesRep),
			SupportMember:     r.SupportMember,
			LeadSource:        r.Lead,
			SourceMedium:      r.SourceMedium,
			Ads:               r.Ads,
			InvoicedThisMonth: r.InvoicedThisMonth,
		},
	}, nil
}
