package document

import (
	"errors"
	"fmt"
)

// ReconciliationError reports line totals that do not add up to the
// invoice total within the profile's rounding tolerance.
type ReconciliationError struct {
	Currency  string
	Expected  int64
	Computed  int64
	Tolerance int64
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation: lines total %d %s, invoice total %d %s (tolerance %d)",
		e.Computed, e.Currency, e.Expected, e.Currency, e.Tolerance)
}

// UnsupportedLineItemError reports a line whose tax treatment cannot be
// expressed in the target profile.
type UnsupportedLineItemError struct {
	Index  int
	Reason string
}

func (e *UnsupportedLineItemError) Error() string {
	return fmt.Sprintf("unsupported line item %d: %s", e.Index, e.Reason)
}

// IsReconciliationError reports whether err wraps a *ReconciliationError.
func IsReconciliationError(err error) bool {
	var re *ReconciliationError
	return errors.As(err, &re)
}

// IsUnsupportedLineItemError reports whether err wraps an *UnsupportedLineItemError.
func IsUnsupportedLineItemError(err error) bool {
	var ue *UnsupportedLineItemError
	return errors.As(err, &ue)
}
