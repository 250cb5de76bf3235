package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus defines the possible states of an invoice.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceReserved  InvoiceStatus = "reserved"
	InvoiceCompleted InvoiceStatus = "completed"
	InvoiceFailed    InvoiceStatus = "failed"
	InvoiceRefunded  InvoiceStatus = "refunded"
)

// IsTerminal reports whether settlement has nothing left to do for the invoice.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceCompleted || s == InvoiceFailed || s == InvoiceRefunded
}

// PaymentStatus defines the possible states of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentPhase records how far a payment's money has travelled through the ledger.
// Compensation uses it to pick between releasing a reservation and crediting back a debit.
type PaymentPhase string

const (
	PhaseReserved PaymentPhase = "reserved"
	PhaseDebited  PaymentPhase = "debited"
)

// DefaultCurrency is applied to invoices created without a currency.
const DefaultCurrency = "USD"

// Invoice is a request to spend part of a user's balance.
type Invoice struct {
	Id             string          `json:"id"`
	UserId         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Status         InvoiceStatus   `json:"status"`
	PaymentId      string          `json:"payment_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Payment tracks the provider interaction for a single invoice.
type Payment struct {
	Id                string          `json:"id"`
	InvoiceId         string          `json:"invoice_id"`
	UserId            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProviderReference *string         `json:"provider_reference"`
	Status            PaymentStatus   `json:"status"`
	Phase             PaymentPhase    `json:"phase"`
	Attempts          int             `json:"attempts"`
	LastError         string          `json:"last_error"`
	// Held stops further charges after the ledger and this record disagreed.
	Held              bool            `json:"held"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TaskKind identifies the unit of work carried by a Task.
type TaskKind string

const (
	TaskSettle TaskKind = "settle"
	TaskRefund TaskKind = "refund"
)

// Task is the message handed to the queue for asynchronous processing.
type Task struct {
	Kind      TaskKind `json:"kind"`
	InvoiceId string   `json:"invoice_id,omitempty"`
	PaymentId string   `json:"payment_id,omitempty"`
	Attempt   int      `json:"attempt"`
}

// SettleTask builds the settlement task for an invoice.
func SettleTask(invoiceID string, attempt int) Task {
	return Task{Kind: TaskSettle, InvoiceId: invoiceID, Attempt: attempt}
}

// RefundTask builds the refund task for a payment.
func RefundTask(paymentID string) Task {
	return Task{Kind: TaskRefund, PaymentId: paymentID}
}

// ErrInvalidAmount is returned for invoice amounts that are not strictly
// positive or carry more than two fraction digits.
var ErrInvalidAmount = errors.New("amount must be positive with at most two decimal places")

// ValidateAmount checks an invoice amount before any record is created.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}
