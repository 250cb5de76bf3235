package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
)

func (s *Store) ReserveInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var out *models.Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		inv, err := scanInvoice(tx.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 FOR UPDATE", invoiceID))
		if err != nil {
			return err
		}
		if inv.Status != models.InvoicePending {
			return storage.ErrStateConflict
		}

		b, err := lockBalance(ctx, tx, inv.UserId)
		if err != nil {
			return err
		}

		inv.UpdatedAt = time.Now().UTC()
		if !b.Reserve(inv.Amount) {
			inv.Status = models.InvoiceFailed
			if err := setInvoiceStatus(ctx, tx, inv); err != nil {
				return err
			}
			return errRejected
		}
		if err := saveBalance(ctx, tx, b); err != nil {
			return err
		}

		inv.Status = models.InvoiceReserved
		out = inv
		return setInvoiceStatus(ctx, tx, inv)
	})
	if errors.Is(err, errRejected) {
		return nil, storage.ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CompleteSettlement(ctx context.Context, paymentID string, providerReference string) (*models.Payment, error) {
	return s.settle(ctx, paymentID, func(tx pgx.Tx, p *models.Payment, inv *models.Invoice, b *models.Balance) error {
		if !b.DebitReserved(p.Amount) {
			return storage.ErrInsufficientReserved
		}
		ref := providerReference
		p.ProviderReference = &ref
		p.Status = models.PaymentSuccess
		p.Phase = models.PhaseDebited
		inv.Status = models.InvoiceCompleted
		return nil
	})
}

func (s *Store) CompensateSettlement(ctx context.Context, paymentID string, providerReference *string, reason string) (*models.Payment, error) {
	return s.settle(ctx, paymentID, func(tx pgx.Tx, p *models.Payment, inv *models.Invoice, b *models.Balance) error {
		if !b.Compensate(p.Phase, p.Amount) {
			return storage.ErrInsufficientReserved
		}
		if providerReference != nil {
			ref := *providerReference
			p.ProviderReference = &ref
		}
		p.Status = models.PaymentFailed
		p.LastError = reason
		inv.Status = models.InvoiceFailed
		return nil
	})
}

// settle locks a pending payment, its reserved invoice and the owner's
// balance, lets apply move all three, then persists them.
func (s *Store) settle(ctx context.Context, paymentID string, apply func(tx pgx.Tx, p *models.Payment, inv *models.Invoice, b *models.Balance) error) (*models.Payment, error) {
	var out *models.Payment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPayment(tx.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", paymentID))
		if err != nil {
			return err
		}
		if p.Status != models.PaymentPending {
			return storage.ErrStateConflict
		}
		inv, err := scanInvoice(tx.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 FOR UPDATE", p.InvoiceId))
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceReserved {
			return storage.ErrStateConflict
		}
		b, err := lockBalance(ctx, tx, p.UserId)
		if err != nil {
			return err
		}

		if err := apply(tx, p, inv, b); err != nil {
			return err
		}

		now := time.Now().UTC()
		p.UpdatedAt = now
		inv.UpdatedAt = now
		if err := saveBalance(ctx, tx, b); err != nil {
			return err
		}
		if err := savePayment(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return setInvoiceStatus(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RefundPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var out *models.Payment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPayment(tx.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", paymentID))
		if err != nil {
			return err
		}
		if p.Status != models.PaymentSuccess {
			return storage.ErrStateConflict
		}
		inv, err := scanInvoice(tx.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 FOR UPDATE", p.InvoiceId))
		if err != nil {
			return err
		}
		b, err := lockBalance(ctx, tx, p.UserId)
		if err != nil {
			return err
		}

		b.Credit(p.Amount)
		now := time.Now().UTC()
		p.Status = models.PaymentRefunded
		p.UpdatedAt = now
		inv.Status = models.InvoiceRefunded
		inv.UpdatedAt = now

		if err := saveBalance(ctx, tx, b); err != nil {
			return err
		}
		if err := savePayment(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return setInvoiceStatus(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func setInvoiceStatus(ctx context.Context, tx pgx.Tx, inv *models.Invoice) error {
	_, err := tx.Exec(ctx, "UPDATE invoices SET status = $2, updated_at = $3 WHERE id = $1", inv.Id, inv.Status, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoice update failed: %w", err)
	}
	return nil
}

func savePayment(ctx context.Context, tx pgx.Tx, p *models.Payment) error {
	_, err := tx.Exec(ctx,
		"UPDATE payments SET provider_reference = $2, status = $3, phase = $4, last_error = $5, updated_at = $6 WHERE id = $1",
		p.Id, p.ProviderReference, p.Status, p.Phase, p.LastError, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("payment update failed: %w", err)
	}
	return nil
}
