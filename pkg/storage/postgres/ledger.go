package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	b := &models.Balance{UserId: userID}
	err := s.Db.QueryRow(ctx,
		"SELECT balance, reserved, version, updated_at FROM balances WHERE user_id = $1",
		userID,
	).Scan(&b.Balance, &b.Reserved, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	return b, nil
}

func (s *Store) Reserve(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	return s.applyPrimitive(ctx, userID, func(b *models.Balance) bool { return b.Reserve(amount) })
}

func (s *Store) DebitReserved(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	return s.applyPrimitive(ctx, userID, func(b *models.Balance) bool { return b.DebitReserved(amount) })
}

func (s *Store) Release(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	return s.applyPrimitive(ctx, userID, func(b *models.Balance) bool { return b.Release(amount) })
}

func (s *Store) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*models.Balance, error) {
	var out *models.Balance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		b.Credit(amount)
		out = b
		return saveBalance(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) applyPrimitive(ctx context.Context, userID string, op func(b *models.Balance) bool) (bool, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !op(b) {
			return errRejected
		}
		return saveBalance(ctx, tx, b)
	})
	if errors.Is(err, errRejected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
