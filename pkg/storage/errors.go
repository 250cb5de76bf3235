package storage

import "errors"

var (
	// ErrInvoiceNotFound is returned when no invoice exists for an ID.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrPaymentNotFound is returned when no payment exists for an ID.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrBalanceNotFound is returned when a user has no ledger row yet.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInsufficientFunds is returned when a reservation exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientReserved is returned when a debit finds less reserved than the payment amount.
	ErrInsufficientReserved = errors.New("reserved amount does not cover payment")

	// ErrStateConflict is returned when a record is no longer in the state a transition requires,
	// usually because another execution already moved it.
	ErrStateConflict = errors.New("record not in expected state")

	// ErrConcurrentUpdate is returned when optimistic locking keeps losing to other writers.
	ErrConcurrentUpdate = errors.New("concurrent update, retries exhausted")
)
