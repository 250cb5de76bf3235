package settlement

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConsistency means the ledger and the settlement records have diverged.
	// It needs an operator and is never retried.
	ErrConsistency = errors.New("consistency fault: ledger and records diverged")

	// ErrRefundNotAllowed is returned when the payment is not in the success state.
	ErrRefundNotAllowed = errors.New("refund not allowed for payment in its current state")
)

// RetryError asks the task runner to dispatch the same settlement again after a delay.
type RetryError struct {
	After time.Duration
	Err   error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}
