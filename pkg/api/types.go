package api

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
)

// NewInvoice is the body of POST /invoices.
type NewInvoice struct {
	UserId         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       *string         `json:"currency,omitempty"`
	Description    *string         `json:"description,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

// Invoice is the API view of an invoice.
type Invoice struct {
	Id             openapi_types.UUID  `json:"id"`
	UserId         string              `json:"user_id"`
	Amount         string              `json:"amount"`
	Currency       string              `json:"currency"`
	Description    string              `json:"description"`
	IdempotencyKey *string             `json:"idempotency_key,omitempty"`
	Status         string              `json:"status"`
	PaymentId      *openapi_types.UUID `json:"payment_id,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Payment is the API view of a payment.
type Payment struct {
	Id                openapi_types.UUID `json:"id"`
	InvoiceId         openapi_types.UUID `json:"invoice_id"`
	UserId            string             `json:"user_id"`
	Amount            string             `json:"amount"`
	Currency          string             `json:"currency"`
	ProviderReference *string            `json:"provider_reference"`
	Status            string             `json:"status"`
	Phase             string             `json:"phase"`
	Attempts          int                `json:"attempts"`
	LastError         string             `json:"last_error"`
	Held              bool               `json:"held"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Balance is the API view of a user's ledger row.
type Balance struct {
	UserId    string    `json:"user_id"`
	Balance   string    `json:"balance"`
	Reserved  string    `json:"reserved"`
	Available string    `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCredit is the body of POST /balances/{userId}/credits.
type NewCredit struct {
	Amount decimal.Decimal `json:"amount"`
}
