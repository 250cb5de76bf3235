package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const invoiceColumns = "id, user_id, amount, currency, description, idempotency_key, status, COALESCE(payment_id, ''), created_at, updated_at"

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(&inv.Id, &inv.UserId, &inv.Amount, &inv.Currency, &inv.Description,
		&inv.IdempotencyKey, &inv.Status, &inv.PaymentId, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("invoice scan failed: %w", err)
	}
	return &inv, nil
}

// CreateInvoice inserts a pending invoice. A unique violation on the
// idempotency key returns the invoice that already holds it.
func (s *Store) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	now := time.Now().UTC()
	stored := *inv
	stored.Id = uuid.New().String()
	stored.Status = models.InvoicePending
	stored.PaymentId = ""
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Currency == "" {
		stored.Currency = models.DefaultCurrency
	}

	_, err := s.Db.Exec(ctx,
		`INSERT INTO invoices (id, user_id, amount, currency, description, idempotency_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stored.Id, stored.UserId, stored.Amount, stored.Currency, stored.Description,
		stored.IdempotencyKey, stored.Status, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && stored.IdempotencyKey != nil {
			existing, err := scanInvoice(s.Db.QueryRow(ctx,
				"SELECT "+invoiceColumns+" FROM invoices WHERE idempotency_key = $1", *stored.IdempotencyKey))
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("invoice insert failed: %w", err)
	}

	return &stored, true, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	return scanInvoice(s.Db.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", invoiceID))
}

func (s *Store) GetStuckInvoices(ctx context.Context, maxAge time.Duration) ([]models.Invoice, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE status IN ($1, $2) AND created_at < $3 ORDER BY created_at",
		models.InvoicePending, models.InvoiceReserved, time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("stuck invoice query failed: %w", err)
	}
	defer rows.Close()

	var stuck []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		stuck = append(stuck, *inv)
	}
	return stuck, rows.Err()
}
