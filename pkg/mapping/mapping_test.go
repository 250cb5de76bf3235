package mapping

import (
	"testing"
	"time"

	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToDomainNewInvoice(t *testing.T) {
	t.Run("Defaults the currency", func(t *testing.T) {
		inv := ToDomainNewInvoice(&api.NewInvoice{UserId: "user-1", Amount: decimal.RequireFromString("40")})
		assert.Equal(t, models.DefaultCurrency, inv.Currency)
		assert.Empty(t, inv.Description)
		assert.Nil(t, inv.IdempotencyKey)
	})

	t.Run("Blank idempotency keys are dropped", func(t *testing.T) {
		for _, key := range []string{"", "   "} {
			key := key
			inv := ToDomainNewInvoice(&api.NewInvoice{UserId: "user-1", Amount: decimal.RequireFromString("40"), IdempotencyKey: &key})
			assert.Nil(t, inv.IdempotencyKey)
		}

		padded := "  key-1 "
		inv := ToDomainNewInvoice(&api.NewInvoice{UserId: "user-1", Amount: decimal.RequireFromString("40"), IdempotencyKey: &padded})
		assert.Equal(t, "key-1", *inv.IdempotencyKey)
	})

	t.Run("Keeps the optional fields", func(t *testing.T) {
		eur, desc, key := "EUR", "March", "key-1"
		inv := ToDomainNewInvoice(&api.NewInvoice{UserId: "user-1", Amount: decimal.RequireFromString("40"), Currency: &eur, Description: &desc, IdempotencyKey: &key})
		assert.Equal(t, "EUR", inv.Currency)
		assert.Equal(t, "March", inv.Description)
		assert.Equal(t, "key-1", *inv.IdempotencyKey)
	})
}

func TestToApiModels(t *testing.T) {
	now := time.Now().UTC()

	invoiceID, paymentID := uuid.New(), uuid.New()
	inv := ToApiInvoice(&models.Invoice{Id: invoiceID.String(), Amount: decimal.RequireFromString("40"), Status: models.InvoicePending, CreatedAt: now})
	assert.Equal(t, invoiceID, inv.Id)
	assert.Equal(t, "40.00", inv.Amount)
	assert.Equal(t, "pending", inv.Status)
	assert.Nil(t, inv.PaymentId)

	b := ToApiBalance(&models.Balance{UserId: "user-1", Balance: decimal.RequireFromString("100"), Reserved: decimal.RequireFromString("40.5")})
	assert.Equal(t, "100.00", b.Balance)
	assert.Equal(t, "40.50", b.Reserved)
	assert.Equal(t, "59.50", b.Available)

	p := ToApiPayment(&models.Payment{Id: paymentID.String(), InvoiceId: invoiceID.String(), Amount: decimal.RequireFromString("12.3"), Status: models.PaymentSuccess, Phase: models.PhaseDebited, Attempts: 2})
	assert.Equal(t, "12.30", p.Amount)
	assert.Equal(t, "debited", p.Phase)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, paymentID, p.Id)
	assert.Equal(t, invoiceID, p.InvoiceId)
	assert.False(t, p.Held)

	held := ToApiPayment(&models.Payment{Id: paymentID.String(), Status: models.PaymentPending, Held: true})
	assert.True(t, held.Held)
}
