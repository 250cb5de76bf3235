package storage

import (
	"context"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
)

// InvoiceReader defines the interface for reading invoice data.
type InvoiceReader interface {
	// GetInvoice retrieves an invoice by its ID.
	GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)

	// GetStuckInvoices retrieves invoices still pending or reserved after maxAge.
	GetStuckInvoices(ctx context.Context, maxAge time.Duration) ([]models.Invoice, error)
}

// InvoiceStore combines invoice reads with creation.
type InvoiceStore interface {
	InvoiceReader

	// CreateInvoice stores a new pending invoice. When the invoice carries an
	// idempotency key that is already taken, the existing invoice is returned
	// unchanged and created is false.
	CreateInvoice(ctx context.Context, inv *models.Invoice) (stored *models.Invoice, created bool, err error)
}
