package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chargeFor(invoiceID string) ChargeRequest {
	return ChargeRequest{
		InvoiceID: invoiceID,
		PaymentID: "payment-1",
		UserID:    "user-1",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Attempt:   1,
	}
}

func TestSimulated_Charge(t *testing.T) {
	g := NewSimulated(0)

	t.Run("Even trailing digit is approved", func(t *testing.T) {
		out, err := g.Charge(context.Background(), chargeFor("6f1c2a9e-0d4b-4a51-9b7e-3c2d1e0f4a52"))

		require.NoError(t, err)
		assert.True(t, out.IsApproved())
		assert.Equal(t, "OK", out.Message)
		assert.True(t, strings.HasPrefix(out.ProviderReference, "sim-"))
		assert.Len(t, out.ProviderReference, len("sim-")+32)
	})

	t.Run("Odd trailing digit is declined", func(t *testing.T) {
		out, err := g.Charge(context.Background(), chargeFor("6f1c2a9e-0d4b-4a51-9b7e-3c2d1e0f4a5b"))

		require.NoError(t, err)
		assert.Equal(t, Declined, out.Result)
		assert.Equal(t, "Simulated failure", out.Message)
		assert.NotEmpty(t, out.ProviderReference)
	})

	t.Run("Same invoice always gets the same verdict", func(t *testing.T) {
		id := "0a8f3b7c-5e2d-4c19-8a6b-7d9e1f2a3b4c"
		first, err := g.Charge(context.Background(), chargeFor(id))
		require.NoError(t, err)
		second, err := g.Charge(context.Background(), chargeFor(id))
		require.NoError(t, err)

		assert.Equal(t, first.Result, second.Result)
		assert.NotEqual(t, first.ProviderReference, second.ProviderReference)
	})

	t.Run("Failure hook surfaces a transient error", func(t *testing.T) {
		boom := errors.New("provider unavailable")
		g := &Simulated{FailureHook: func(ChargeRequest) error { return boom }}

		_, err := g.Charge(context.Background(), chargeFor("6f1c2a9e-0d4b-4a51-9b7e-3c2d1e0f4a52"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Latency respects context cancellation", func(t *testing.T) {
		g := NewSimulated(time.Hour)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := g.Charge(ctx, chargeFor("6f1c2a9e-0d4b-4a51-9b7e-3c2d1e0f4a52"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
