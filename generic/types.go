/*
Package generic provides the core bonus-eligibility engine.

PURPOSE:
  This package contains the types and algorithms that decide whether an
  imported billing account qualifies a salesperson for the quarterly bonus.
  Everything here is pure: no I/O, no globals. Persistence, HTTP, and
  leaderboard presentation live in other packages and call into this one.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: A billing status as a closed enumeration plus its original label
  - StatusEntry: One point of a customer's status timeline
  - Record: One customer account inside one fiscal quarter
  - RecordKey: The (quarter, customer) pair that identifies a record

DESIGN PRINCIPLES:
  1. Append-on-change: the status history only grows when the status changes
  2. Derived eligibility: BonusEligible is recomputed on every write, never set
  3. Fixed quarter: a record's quarter comes from its first payment, once
  4. Typed statuses: comparisons go through StatusKind, not raw strings

USAGE:
  history, _ := generic.MergeStatus(existing, generic.ParseStatus("Current"),
      firstPayment, now, quarter.End())
  eligible := generic.IsEligible(history, quarter.End(), now)

SEE ALSO:
  - ledger.go: Status history tracker (MergeStatus)
  - eligibility.go: Continuous-Current scan
  - period.go: Quarters and competition windows
*/
package generic

import (
	"encoding/json"
	"strings"
	"time"
)

// =============================================================================
// STATUS - Closed enumeration with an explicit unknown fallback
// =============================================================================

// StatusKind is the normalized billing status.
type StatusKind uint8

const (
	StatusUnknown StatusKind = iota
	StatusCurrent
	StatusPastDue
	StatusCancelled
	StatusSuspended
	StatusExpired
)

func (k StatusKind) String() string {
	switch k {
	case StatusCurrent:
		return "Current"
	case StatusPastDue:
		return "Past Due"
	case StatusCancelled:
		return "Cancelled"
	case StatusSuspended:
		return "Suspended"
	case StatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Status is a billing status as reported by the billing system.
// Kind drives every comparison; Label keeps the text that was imported.
type Status struct {
	Kind  StatusKind
	Label string
}

// ParseStatus maps a raw billing label onto a Status. Unrecognized labels
// keep StatusUnknown and are compared by their normalized text.
func ParseStatus(label string) Status {
	label = strings.TrimSpace(label)
	return Status{Kind: kindOf(normalizeLabel(label)), Label: label}
}

func kindOf(normalized string) StatusKind {
	switch normalized {
	case "current":
		return StatusCurrent
	case "past due", "past-due", "pastdue", "overdue", "over due":
		return StatusPastDue
	case "cancelled", "canceled":
		return StatusCancelled
	case "suspended":
		return StatusSuspended
	case "expired":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// IsCurrent reports whether the status counts toward a continuous run.
func (s Status) IsCurrent() bool { return s.Kind == StatusCurrent }

// Equal reports whether two observations describe the same status.
func (s Status) Equal(other Status) bool {
	if s.Kind != other.Kind {
		return false
	}
	if s.Kind == StatusUnknown {
		return normalizeLabel(s.Label) == normalizeLabel(other.Label)
	}
	return true
}

func (s Status) String() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Kind.String()
}

// MarshalText persists the label so stored documents read like the import.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

// StatusEntry is one observation on a customer's status timeline.
// A zero Timestamp marks an entry whose time could not be decoded.
type StatusEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON decodes an entry leniently: a timestamp that is missing or
// not RFC 3339 becomes the zero time instead of failing the whole history.
func (e *StatusEntry) UnmarshalJSON(b []byte) error {
	var raw struct {
		Status    Status          `json:"status"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Status = raw.Status
	e.Timestamp = time.Time{}
	if len(raw.Timestamp) > 0 {
		var ts time.Time
		if err := json.Unmarshal(raw.Timestamp, &ts); err == nil {
			e.Timestamp = ts
		}
	}
	return nil
}

// DecodeHistory decodes a stored status history entry by entry. An entry
// that cannot be decoded at all keeps its position as an Unknown entry with
// a zero timestamp, so later entries survive and the scan ends a run there.
// Only a document that is not a JSON array is an error.
func DecodeHistory(data []byte) ([]StatusEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	if raws == nil {
		return nil, nil
	}
	history := make([]StatusEntry, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &history[i]); err != nil {
			history[i] = StatusEntry{}
		}
	}
	return history, nil
}

// =============================================================================
// RECORD
// =============================================================================

// Metadata carries the descriptive columns of the billing export.
// Only SalesRep is read by the engine (leaderboard grouping key).
type Metadata struct {
	Customer          string `json:"customer"`
	State             string `json:"state"`
	TypeOfLaw         string `json:"type_of_law"`
	LTV               string `json:"ltv"`
	Created           string `json:"created"`
	Total             string `json:"total"`
	SalesRep          string `json:"sales_rep"`
	SupportMember     string `json:"support_member"`
	LeadSource        string `json:"lead_source"`
	SourceMedium      string `json:"source_medium"`
	Ads               string `json:"ads"`
	InvoicedThisMonth string `json:"invoiced_this_month"`
}

// Record is one customer account within one fiscal quarter.
type Record struct {
	ID            string        `json:"id"`
	QuarterKey    QuarterKey    `json:"quarter_key"`
	FirstPayment  time.Time     `json:"first_payment"`
	Status        Status        `json:"status"`
	StatusHistory []StatusEntry `json:"status_history"`
	BonusEligible bool          `json:"bonus_eligible"`
	LastUpdated   time.Time     `json:"last_updated"`
	Metadata      Metadata      `json:"metadata"`

	// Version is the optimistic-concurrency counter. Zero means the record
	// has never been stored; stores bump it on every successful write.
	Version int64 `json:"version"`
}

// Key returns the store key of the record.
func (r Record) Key() RecordKey {
	return RecordKey{QuarterKey: r.QuarterKey, ID: r.ID}
}

// RecordKey identifies a record: one customer in one quarter.
type RecordKey struct {
	QuarterKey QuarterKey
	ID         string
}

func (k RecordKey) String() string { return string(k.QuarterKey) + "/" + k.ID }
