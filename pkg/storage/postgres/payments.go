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

const paymentColumns = "id, invoice_id, user_id, amount, currency, provider_reference, status, phase, attempts, last_error, held, created_at, updated_at"

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.Id, &p.InvoiceId, &p.UserId, &p.Amount, &p.Currency, &p.ProviderReference,
		&p.Status, &p.Phase, &p.Attempts, &p.LastError, &p.Held, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment scan failed: %w", err)
	}
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return scanPayment(s.Db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", paymentID))
}

func (s *Store) ListPayments(ctx context.Context) ([]models.Payment, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+paymentColumns+" FROM payments ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("payment query failed: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// GetOrCreatePayment relies on the unique invoice_id column: the insert is a
// no-op for every caller but the first, and they all read the same row back.
func (s *Store) GetOrCreatePayment(ctx context.Context, inv *models.Invoice) (*models.Payment, bool, error) {
	var (
		out     *models.Payment
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := scanInvoice(tx.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", inv.Id))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			`INSERT INTO payments (id, invoice_id, user_id, amount, currency, status, phase, attempts, last_error, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, '', $8, $8)
			 ON CONFLICT (invoice_id) DO NOTHING`,
			uuid.New().String(), current.Id, current.UserId, current.Amount, current.Currency,
			models.PaymentPending, models.PhaseReserved, now,
		)
		if err != nil {
			return fmt.Errorf("payment insert failed: %w", err)
		}
		created = tag.RowsAffected() == 1

		out, err = scanPayment(tx.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE invoice_id = $1", current.Id))
		if err != nil {
			return err
		}

		if created {
			_, err = tx.Exec(ctx, "UPDATE invoices SET payment_id = $2, updated_at = $3 WHERE id = $1", current.Id, out.Id, now)
			if err != nil {
				return fmt.Errorf("invoice update failed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Store) RecordAttempt(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := scanPayment(s.Db.QueryRow(ctx,
		`UPDATE payments SET attempts = attempts + 1, updated_at = $2
		 WHERE id = $1 AND status = $3 AND NOT held
		 RETURNING `+paymentColumns,
		paymentID, time.Now().UTC(), models.PaymentPending,
	))
	if errors.Is(err, storage.ErrPaymentNotFound) {
		return nil, s.guardMiss(ctx, paymentID)
	}
	return p, err
}

func (s *Store) HoldPayment(ctx context.Context, paymentID string, reason string) (*models.Payment, error) {
	p, err := scanPayment(s.Db.QueryRow(ctx,
		`UPDATE payments SET held = true, last_error = $2, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+paymentColumns,
		paymentID, reason, time.Now().UTC(), models.PaymentPending,
	))
	if errors.Is(err, storage.ErrPaymentNotFound) {
		return nil, s.guardMiss(ctx, paymentID)
	}
	return p, err
}

// guardMiss tells a conditional update that matched nothing because the row
// is missing apart from one that matched nothing because the row moved on.
func (s *Store) guardMiss(ctx context.Context, paymentID string) error {
	var exists bool
	if err := s.Db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)", paymentID).Scan(&exists); err != nil {
		return fmt.Errorf("payment lookup failed: %w", err)
	}
	if !exists {
		return storage.ErrPaymentNotFound
	}
	return storage.ErrStateConflict
}
