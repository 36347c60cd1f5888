/*
errors.go - Centralized error types for the bonus engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Ingest, store, and API packages wrap these with additional context.

ERROR CATEGORIES:
  1. Input errors - Malformed rows (unparseable first payment, bad keys)
  2. Store errors - Missing records, write conflicts, unavailability
  3. Settings errors - Invalid configuration values

PROPAGATION:
  Errors local to one record never abort an import batch. They are attached
  to that record's outcome. Only ErrStoreUnavailable for the whole batch is
  returned to the caller.

    if errors.Is(err, generic.ErrConcurrentModification) {
        // re-read and merge again
    }

SEE ALSO:
  - store.go: Uses these errors
  - ingest/processor.go: Per-record error collection
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRecordNotFound is returned when no record exists for a key.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when an optimistic write lost a
	// race against another writer of the same (quarter, customer) key.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCorruptHistory is returned when a stored status history is not a
	// list at all. The record is left untouched rather than overwritten.
	ErrCorruptHistory = errors.New("corrupt status history")

	// ErrStoreUnavailable is returned when the record store cannot be reached.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrInvalidFirstPayment is returned when a row's first payment date
	// cannot be parsed. The row is skipped, the batch continues.
	ErrInvalidFirstPayment = errors.New("invalid first payment date")

	// ErrMissingCustomerID is returned for rows without a customer identifier.
	ErrMissingCustomerID = errors.New("missing customer id")

	// ErrInvalidQuarterKey is returned for keys not shaped like "Q1_2025".
	ErrInvalidQuarterKey = errors.New("invalid quarter key")

	// ErrInvalidSetting is returned when a setting value has the wrong type.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrInvalidSplits is returned when the prize split table does not sum to 1.
	ErrInvalidSplits = errors.New("invalid prize splits")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FirstPaymentError reports the value that failed to parse.
type FirstPaymentError struct {
	Value string
	Err   error
}

func (e *FirstPaymentError) Error() string {
	return fmt.Sprintf("invalid first payment date %q: %v", e.Value, e.Err)
}

func (e *FirstPaymentError) Unwrap() error { return ErrInvalidFirstPayment }

// RowError ties an input problem to the row that caused it.
type RowError struct {
	Line       int
	CustomerID string
	Err        error
}

func (e *RowError) Error() string {
	if e.CustomerID == "" {
		return fmt.Sprintf("row %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("row %d (customer %s): %v", e.Line, e.CustomerID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RecordError ties a processing failure to a stored record.
type RecordError struct {
	Key RecordKey
	Op  string // "get", "upsert"
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidFirstPayment) ||
		errors.Is(err, ErrMissingCustomerID) ||
		errors.Is(err, ErrInvalidQuarterKey) ||
		errors.Is(err, ErrInvalidSetting) ||
		errors.Is(err, ErrInvalidSplits)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
