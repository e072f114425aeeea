package accrual

import "errors"

var (
	// ErrValidation marks a malformed or contradictory snapshot; nothing is posted.
	ErrValidation = errors.New("invalid accrual input")
	// ErrComputation marks unexpected state during a loan's accrual pass.
	ErrComputation = errors.New("accrual computation failed")
)
