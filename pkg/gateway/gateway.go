package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Result is the provider's verdict on a charge.
type Result string

const (
	Approved Result = "approved"
	Declined Result = "declined"
)

// ChargeRequest carries everything a provider needs to move money for one invoice.
// PaymentID doubles as the provider-side idempotency reference.
type ChargeRequest struct {
	InvoiceID string
	PaymentID string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Attempt   int
}

// Outcome is the definitive answer from the provider. A transient fault is
// never an Outcome; Charge reports it as an error instead.
type Outcome struct {
	Result            Result
	ProviderReference string
	Message           string
}

// IsApproved reports whether the provider accepted the charge.
func (o Outcome) IsApproved() bool {
	return o.Result == Approved
}

// Gateway abstracts the external payment provider.
type Gateway interface {
	// Charge attempts to collect the requested amount. Any returned error is
	// transient and the charge may be retried.
	Charge(ctx context.Context, req ChargeRequest) (Outcome, error)
}
