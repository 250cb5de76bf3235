package storage

import (
	"context"

	"github.com/chris/invoice-settlement/pkg/models"
)

// PaymentReader defines the interface for reading payment data.
type PaymentReader interface {
	// GetPayment retrieves a payment by its ID.
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)

	// ListPayments returns all payments, newest first.
	ListPayments(ctx context.Context) ([]models.Payment, error)
}
