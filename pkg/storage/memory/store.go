package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-process implementation of storage.Storage. A single mutex
// serialises every atomic unit, which gives each one exclusive access to the
// ledger rows it touches.
type Store struct {
	mu sync.Mutex

	balances        map[string]*models.Balance
	invoices        map[string]*models.Invoice
	payments        map[string]*models.Payment
	idempotencyKeys map[string]string
	invoicePayments map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		balances:        make(map[string]*models.Balance),
		invoices:        make(map[string]*models.Invoice),
		payments:        make(map[string]*models.Payment),
		idempotencyKeys: make(map[string]string),
		invoicePayments: make(map[string]string),
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

// GetBalance returns a copy of the user's ledger row.
func (s *Store) GetBalance(_ context.Context, userID string) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, storage.ErrBalanceNotFound
	}
	out := *b
	return &out, nil
}

func (s *Store) Reserve(_ context.Context, userID string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceFor(userID).Reserve(amount), nil
}

func (s *Store) DebitReserved(_ context.Context, userID string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceFor(userID).DebitReserved(amount), nil
}

func (s *Store) Release(_ context.Context, userID string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceFor(userID).Release(amount), nil
}

func (s *Store) Credit(_ context.Context, userID string, amount decimal.Decimal) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balanceFor(userID)
	b.Credit(amount)
	out := *b
	return &out, nil
}

// balanceFor lazily creates the ledger row. Callers must hold s.mu.
func (s *Store) balanceFor(userID string) *models.Balance {
	b, ok := s.balances[userID]
	if !ok {
		b = models.NewBalance(userID)
		s.balances[userID] = b
	}
	return b
}

// CreateInvoice stores a new invoice, deduplicating on the idempotency key.
func (s *Store) CreateInvoice(_ context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.IdempotencyKey != nil {
		if existingID, ok := s.idempotencyKeys[*inv.IdempotencyKey]; ok {
			out := *s.invoices[existingID]
			return &out, false, nil
		}
	}

	now := time.Now().UTC()
	stored := *inv
	stored.Id = uuid.New().String()
	stored.Status = models.InvoicePending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Currency == "" {
		stored.Currency = models.DefaultCurrency
	}

	s.invoices[stored.Id] = &stored
	if stored.IdempotencyKey != nil {
		s.idempotencyKeys[*stored.IdempotencyKey] = stored.Id
	}

	out := stored
	return &out, true, nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, storage.ErrInvoiceNotFound
	}
	out := *inv
	return &out, nil
}

func (s *Store) GetStuckInvoices(_ context.Context, maxAge time.Duration) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	var stuck []models.Invoice
	for _, inv := range s.invoices {
		if inv.Status.IsTerminal() || !inv.CreatedAt.Before(cutoff) {
			continue
		}
		stuck = append(stuck, *inv)
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].CreatedAt.Before(stuck[j].CreatedAt)
	})
	return stuck, nil
}

func (s *Store) GetPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, storage.ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) ListPayments(_ context.Context) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payments := make([]models.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		payments = append(payments, *p)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}
