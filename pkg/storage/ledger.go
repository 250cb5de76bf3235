package storage

import (
	"context"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// LedgerStore exposes the per-user balance primitives. Every mutating call is a
// single atomic unit that holds the user's ledger row exclusively.
type LedgerStore interface {
	// GetBalance returns the ledger row for a user, or ErrBalanceNotFound.
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)

	// Reserve earmarks funds. It reports false when amount is not positive or
	// exceeds the available balance, leaving the row unchanged.
	Reserve(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)

	// DebitReserved permanently removes previously reserved funds.
	DebitReserved(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)

	// Release returns reserved funds to the available balance.
	Release(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)

	// Credit adds funds to the balance and returns the updated row.
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (*models.Balance, error)
}
