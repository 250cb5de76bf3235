package memory

import (
	"context"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/google/uuid"
)

// ReserveInvoice reserves the invoice amount and moves it out of pending.
func (s *Store) ReserveInvoice(_ context.Context, invoiceID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, storage.ErrInvoiceNotFound
	}
	if inv.Status != models.InvoicePending {
		return nil, storage.ErrStateConflict
	}

	now := time.Now().UTC()
	if !s.balanceFor(inv.UserId).Reserve(inv.Amount) {
		inv.Status = models.InvoiceFailed
		inv.UpdatedAt = now
		return nil, storage.ErrInsufficientFunds
	}

	inv.Status = models.InvoiceReserved
	inv.UpdatedAt = now
	out := *inv
	return &out, nil
}

// GetOrCreatePayment keys payments by invoice so a second caller gets the first one's row.
func (s *Store) GetOrCreatePayment(_ context.Context, inv *models.Invoice) (*models.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.invoices[inv.Id]
	if !ok {
		return nil, false, storage.ErrInvoiceNotFound
	}
	if paymentID, ok := s.invoicePayments[inv.Id]; ok {
		out := *s.payments[paymentID]
		return &out, false, nil
	}

	now := time.Now().UTC()
	p := &models.Payment{
		Id:        uuid.New().String(),
		InvoiceId: stored.Id,
		UserId:    stored.UserId,
		Amount:    stored.Amount,
		Currency:  stored.Currency,
		Status:    models.PaymentPending,
		Phase:     models.PhaseReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.payments[p.Id] = p
	s.invoicePayments[stored.Id] = p.Id
	stored.PaymentId = p.Id

	out := *p
	return &out, true, nil
}

func (s *Store) RecordAttempt(_ context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, storage.ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending || p.Held {
		return nil, storage.ErrStateConflict
	}
	p.Attempts++
	p.UpdatedAt = time.Now().UTC()

	out := *p
	return &out, nil
}

func (s *Store) HoldPayment(_ context.Context, paymentID string, reason string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, storage.ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending {
		return nil, storage.ErrStateConflict
	}
	p.Held = true
	p.LastError = reason
	p.UpdatedAt = time.Now().UTC()

	out := *p
	return &out, nil
}

func (s *Store) CompleteSettlement(_ context.Context, paymentID string, providerReference string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, inv, err := s.pendingPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoiceReserved {
		return nil, storage.ErrStateConflict
	}

	b := s.balanceFor(p.UserId)
	if !b.DebitReserved(p.Amount) {
		return nil, storage.ErrInsufficientReserved
	}

	now := time.Now().UTC()
	ref := providerReference
	p.ProviderReference = &ref
	p.Status = models.PaymentSuccess
	p.Phase = models.PhaseDebited
	p.UpdatedAt = now
	inv.Status = models.InvoiceCompleted
	inv.UpdatedAt = now

	out := *p
	return &out, nil
}

func (s *Store) CompensateSettlement(_ context.Context, paymentID string, providerReference *string, reason string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, inv, err := s.pendingPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoiceReserved {
		return nil, storage.ErrStateConflict
	}

	if !s.balanceFor(p.UserId).Compensate(p.Phase, p.Amount) {
		return nil, storage.ErrInsufficientReserved
	}

	now := time.Now().UTC()
	if providerReference != nil {
		ref := *providerReference
		p.ProviderReference = &ref
	}
	p.Status = models.PaymentFailed
	p.LastError = reason
	p.UpdatedAt = now
	inv.Status = models.InvoiceFailed
	inv.UpdatedAt = now

	out := *p
	return &out, nil
}

func (s *Store) RefundPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, storage.ErrPaymentNotFound
	}
	if p.Status != models.PaymentSuccess {
		return nil, storage.ErrStateConflict
	}
	inv, ok := s.invoices[p.InvoiceId]
	if !ok {
		return nil, storage.ErrInvoiceNotFound
	}

	s.balanceFor(p.UserId).Credit(p.Amount)

	now := time.Now().UTC()
	p.Status = models.PaymentRefunded
	p.UpdatedAt = now
	inv.Status = models.InvoiceRefunded
	inv.UpdatedAt = now

	out := *p
	return &out, nil
}

// pendingPayment loads a pending payment and its invoice. Callers must hold s.mu.
func (s *Store) pendingPayment(paymentID string) (*models.Payment, *models.Invoice, error) {
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, nil, storage.ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending {
		return nil, nil, storage.ErrStateConflict
	}
	inv, ok := s.invoices[p.InvoiceId]
	if !ok {
		return nil, nil, storage.ErrInvoiceNotFound
	}
	return p, inv, nil
}
