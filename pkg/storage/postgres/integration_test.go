package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/chris/invoice-settlement/pkg/gateway"
	gwmocks "github.com/chris/invoice-settlement/pkg/gateway/mocks"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/settlement"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/storage/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// These tests run against a real database and are skipped unless DB_SOURCE
// points at one. Every test works on its own user, so they share tables safely.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("DB_SOURCE")
	if dsn == "" {
		t.Skip("DB_SOURCE not set, skipping postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := postgres.NewStore(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(store.Close)
	return store
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fundedUser(t *testing.T, store *postgres.Store, funds string) string {
	t.Helper()
	userID := "user-" + uuid.NewString()
	if funds != "" {
		_, err := store.Credit(context.Background(), userID, amount(funds))
		require.NoError(t, err)
	}
	return userID
}

func createInvoice(t *testing.T, store *postgres.Store, userID, value string) *models.Invoice {
	t.Helper()
	inv, created, err := store.CreateInvoice(context.Background(), &models.Invoice{UserId: userID, Amount: amount(value)})
	require.NoError(t, err)
	require.True(t, created)
	return inv
}

func assertLedger(t *testing.T, store *postgres.Store, userID, balance, reserved string) {
	t.Helper()
	b, err := store.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, amount(balance).Equal(b.Balance), "balance: want %s, got %s", balance, b.Balance)
	assert.True(t, amount(reserved).Equal(b.Reserved), "reserved: want %s, got %s", reserved, b.Reserved)
}

func pendingPayment(t *testing.T, store *postgres.Store, userID, value string) *models.Payment {
	t.Helper()
	ctx := context.Background()
	inv := createInvoice(t, store, userID, value)
	reserved, err := store.ReserveInvoice(ctx, inv.Id)
	require.NoError(t, err)
	p, created, err := store.GetOrCreatePayment(ctx, reserved)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func TestPostgresLedgerPrimitives(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := fundedUser(t, store, "100.00")

	ok, err := store.Reserve(ctx, userID, amount("30.00"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, userID, amount("80.00"))
	require.NoError(t, err)
	assert.False(t, ok, "only 70.00 is available")

	ok, err = store.Release(ctx, userID, amount("10.00"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.DebitReserved(ctx, userID, amount("20.00"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.DebitReserved(ctx, userID, amount("1.00"))
	require.NoError(t, err)
	assert.False(t, ok, "nothing is reserved any more")

	assertLedger(t, store, userID, "80.00", "0")
}

func TestPostgresReserveInvoice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("Insufficient funds fails the invoice and commits that status", func(t *testing.T) {
		userID := fundedUser(t, store, "10.00")
		inv := createInvoice(t, store, userID, "40.00")

		_, err := store.ReserveInvoice(ctx, inv.Id)

		assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
		stored, err := store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceFailed, stored.Status)
		assertLedger(t, store, userID, "10.00", "0")
	})

	t.Run("A second reservation conflicts", func(t *testing.T) {
		userID := fundedUser(t, store, "100.00")
		inv := createInvoice(t, store, userID, "40.00")

		_, err := store.ReserveInvoice(ctx, inv.Id)
		require.NoError(t, err)
		_, err = store.ReserveInvoice(ctx, inv.Id)

		assert.ErrorIs(t, err, storage.ErrStateConflict)
		assertLedger(t, store, userID, "100.00", "40.00")
	})
}

func TestPostgresGetOrCreatePaymentConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := fundedUser(t, store, "100.00")
	inv := createInvoice(t, store, userID, "40.00")
	inv, err := store.ReserveInvoice(ctx, inv.Id)
	require.NoError(t, err)

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, isNew, err := store.GetOrCreatePayment(ctx, inv)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[p.Id] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	stored, err := store.GetInvoice(ctx, inv.Id)
	require.NoError(t, err)
	assert.True(t, ids[stored.PaymentId])
}

func TestPostgresRecordAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("Counts attempts on a pending payment", func(t *testing.T) {
		p := pendingPayment(t, store, fundedUser(t, store, "100.00"), "40.00")

		_, err := store.RecordAttempt(ctx, p.Id)
		require.NoError(t, err)
		counted, err := store.RecordAttempt(ctx, p.Id)

		require.NoError(t, err)
		assert.Equal(t, 2, counted.Attempts)
	})

	t.Run("Missing payment is not found rather than a conflict", func(t *testing.T) {
		_, err := store.RecordAttempt(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrPaymentNotFound)
	})

	t.Run("Finished payment conflicts", func(t *testing.T) {
		p := pendingPayment(t, store, fundedUser(t, store, "100.00"), "40.00")
		_, err := store.CompleteSettlement(ctx, p.Id, "sim-1")
		require.NoError(t, err)

		_, err = store.RecordAttempt(ctx, p.Id)

		assert.ErrorIs(t, err, storage.ErrStateConflict)
	})

	t.Run("Held payment conflicts", func(t *testing.T) {
		p := pendingPayment(t, store, fundedUser(t, store, "100.00"), "40.00")
		held, err := store.HoldPayment(ctx, p.Id, "reservation missing")
		require.NoError(t, err)
		assert.True(t, held.Held)
		assert.Equal(t, "reservation missing", held.LastError)

		_, err = store.RecordAttempt(ctx, p.Id)

		assert.ErrorIs(t, err, storage.ErrStateConflict)
		stored, err := store.GetPayment(ctx, p.Id)
		require.NoError(t, err)
		assert.True(t, stored.Held)
		assert.Equal(t, 0, stored.Attempts)
	})

	t.Run("Holding a missing payment is not found", func(t *testing.T) {
		_, err := store.HoldPayment(ctx, uuid.NewString(), "x")
		assert.ErrorIs(t, err, storage.ErrPaymentNotFound)
	})
}

var (
	approved = gateway.Outcome{Result: gateway.Approved, ProviderReference: "sim-approved", Message: "OK"}
	declined = gateway.Outcome{Result: gateway.Declined, ProviderReference: "sim-declined", Message: "Simulated failure"}
)

func TestPostgresSettlementScenarios(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	newOrchestrator := func(t *testing.T) (*settlement.Orchestrator, *gwmocks.Gateway) {
		gw := gwmocks.NewGateway(t)
		return settlement.NewOrchestrator(store, gw, nil, settlement.Options{Retry: settlement.DefaultRetryPolicy()}), gw
	}

	settleApproved := func(t *testing.T) (string, *models.Invoice, *settlement.Orchestrator) {
		orch, gw := newOrchestrator(t)
		userID := fundedUser(t, store, "100.00")
		inv := createInvoice(t, store, userID, "40.00")
		gw.On("Charge", mock.Anything, mock.Anything).Return(approved, nil).Once()

		require.NoError(t, orch.Settle(ctx, inv.Id, 0))
		return userID, inv, orch
	}

	t.Run("Approved charge debits the balance", func(t *testing.T) {
		userID, inv, _ := settleApproved(t)

		assertLedger(t, store, userID, "60.00", "0")
		stored, err := store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceCompleted, stored.Status)
		p, err := store.GetPayment(ctx, stored.PaymentId)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentSuccess, p.Status)
		assert.Equal(t, models.PhaseDebited, p.Phase)
		assert.Equal(t, 1, p.Attempts)
	})

	t.Run("Declined charge leaves the balance untouched", func(t *testing.T) {
		orch, gw := newOrchestrator(t)
		userID := fundedUser(t, store, "100.00")
		inv := createInvoice(t, store, userID, "40.00")
		gw.On("Charge", mock.Anything, mock.Anything).Return(declined, nil).Once()

		require.NoError(t, orch.Settle(ctx, inv.Id, 0))

		assertLedger(t, store, userID, "100.00", "0")
		stored, err := store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceFailed, stored.Status)
		p, err := store.GetPayment(ctx, stored.PaymentId)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, p.Status)
		assert.Equal(t, 1, p.Attempts)
	})

	t.Run("Insufficient funds fails without a payment", func(t *testing.T) {
		orch, gw := newOrchestrator(t)
		userID := fundedUser(t, store, "10.00")
		inv := createInvoice(t, store, userID, "40.00")

		require.NoError(t, orch.Settle(ctx, inv.Id, 0))

		assertLedger(t, store, userID, "10.00", "0")
		stored, err := store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceFailed, stored.Status)
		assert.Empty(t, stored.PaymentId)
		gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	})

	t.Run("Refund restores the balance", func(t *testing.T) {
		userID, inv, orch := settleApproved(t)
		stored, err := store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)

		require.NoError(t, orch.Refund(ctx, stored.PaymentId))

		assertLedger(t, store, userID, "100.00", "0")
		stored, err = store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceRefunded, stored.Status)
		p, err := store.GetPayment(ctx, stored.PaymentId)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentRefunded, p.Status)
		assert.ErrorIs(t, orch.Refund(ctx, stored.PaymentId), settlement.ErrRefundNotAllowed)
	})

	t.Run("Transient failure keeps the reservation for the retry", func(t *testing.T) {
		orch, gw := newOrchestrator(t)
		userID := fundedUser(t, store, "100.00")
		inv := createInvoice(t, store, userID, "40.00")
		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.Outcome{}, errors.New("connection reset")).Once()

		var retry *settlement.RetryError
		require.ErrorAs(t, orch.Settle(ctx, inv.Id, 0), &retry)

		assertLedger(t, store, userID, "100.00", "40.00")
		stored, err := store.GetInvoice(ctx, inv.Id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceReserved, stored.Status)
	})
}
