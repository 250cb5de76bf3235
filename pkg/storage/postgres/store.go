package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// errRejected marks a ledger step the balance could not take. The
// surrounding transaction still commits whatever else the step wrote.
var errRejected = errors.New("ledger mutation rejected")

// Store implements the Storage interface on PostgreSQL. Every atomic unit is
// one transaction that locks the user's balance row with SELECT ... FOR UPDATE.
// Rows are always locked in payment, invoice, balance order.
type Store struct {
	Db *pgxpool.Pool
}

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

func (s *Store) Close() {
	s.Db.Close()
}

// inTx runs fn in a read-committed transaction. It commits when fn succeeds
// or reports errRejected, and rolls back on any other error.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	fnErr := fn(tx)
	if fnErr != nil && !errors.Is(fnErr, errRejected) {
		return fnErr
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return fnErr
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// lockBalance creates the ledger row if needed and locks it for the rest of the transaction.
func lockBalance(ctx context.Context, tx pgx.Tx, userID string) (*models.Balance, error) {
	_, err := tx.Exec(ctx, "INSERT INTO balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("balance insert failed: %w", err)
	}

	b := &models.Balance{UserId: userID}
	err = tx.QueryRow(ctx,
		"SELECT balance, reserved, version, updated_at FROM balances WHERE user_id = $1 FOR UPDATE",
		userID,
	).Scan(&b.Balance, &b.Reserved, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return b, nil
}

func saveBalance(ctx context.Context, tx pgx.Tx, b *models.Balance) error {
	_, err := tx.Exec(ctx,
		"UPDATE balances SET balance = $2, reserved = $3, version = $4, updated_at = $5 WHERE user_id = $1",
		b.UserId, b.Balance, b.Reserved, b.Version, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	return nil
}
