package storage

import (
	"context"

	"github.com/chris/invoice-settlement/pkg/models"
)

// SettlementStore defines the highly-privileged interface used by the settlement saga.
// Each method is a single atomic unit across the ledger, invoice and payment records.
// It should only be exposed to the component responsible for settlement.
type SettlementStore interface {
	InvoiceReader
	PaymentReader

	// ReserveInvoice reserves the invoice amount on the owner's ledger row and moves
	// the invoice from pending to reserved. If the funds are insufficient the
	// invoice is moved to failed and ErrInsufficientFunds is returned.
	// ErrStateConflict means the invoice was no longer pending.
	ReserveInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)

	// GetOrCreatePayment returns the single payment for an invoice, creating it on
	// first use. Concurrent callers always observe the same payment.
	GetOrCreatePayment(ctx context.Context, inv *models.Invoice) (payment *models.Payment, created bool, err error)

	// RecordAttempt increments the attempt counter of a pending payment that is
	// not held. ErrStateConflict means the payment moved on or is held.
	RecordAttempt(ctx context.Context, paymentID string) (*models.Payment, error)

	// HoldPayment parks a pending payment for an operator after its ledger row
	// and records disagreed. A held payment is never charged again.
	HoldPayment(ctx context.Context, paymentID string, reason string) (*models.Payment, error)

	// CompleteSettlement debits the reservation, marks the payment successful and
	// the invoice completed. ErrInsufficientReserved signals that ledger and
	// records have diverged.
	CompleteSettlement(ctx context.Context, paymentID string, providerReference string) (*models.Payment, error)

	// CompensateSettlement undoes the payment's hold on the ledger according to its
	// phase and marks both payment and invoice failed with the given reason.
	CompensateSettlement(ctx context.Context, paymentID string, providerReference *string, reason string) (*models.Payment, error)

	// RefundPayment credits a successful payment back to the ledger and marks the
	// payment and invoice refunded. ErrStateConflict means it was not successful.
	RefundPayment(ctx context.Context, paymentID string) (*models.Payment, error)
}
