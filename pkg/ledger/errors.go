package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrPersistence marks a store or journal write that was rejected. The loan's
	// changes were rolled back.
	ErrPersistence = errors.New("persistence failure")
	ErrNotEligible = errors.New("loan is not eligible for periodic accrual")
)

// LoanError is a failed accrual pass for one loan.
type LoanError struct {
	LoanID uuid.UUID
	Op     string
	Err    error
}

func (e *LoanError) Error() string {
	return fmt.Sprintf("%s failed for loan %s: %v", e.Op, e.LoanID, e.Err)
}

func (e *LoanError) Unwrap() error { return e.Err }

// BatchError reports every loan that failed in a batch run.
type BatchError struct {
	Failures []*LoanError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "accrual batch failed for %d loan(s)", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}
