package mapping

import (
	"strings"

	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// toApiId converts a stored id. Stores only ever issue UUIDs; anything else maps to the nil UUID.
func toApiId(id string) openapi_types.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return openapi_types.UUID(uuid.Nil)
	}
	return openapi_types.UUID(parsed)
}

// ToApiInvoice converts a domain Invoice model to an API Invoice model.
func ToApiInvoice(inv *models.Invoice) *api.Invoice {
	out := &api.Invoice{
		Id:             toApiId(inv.Id),
		UserId:         inv.UserId,
		Amount:         inv.Amount.StringFixed(2),
		Currency:       inv.Currency,
		Description:    inv.Description,
		IdempotencyKey: inv.IdempotencyKey,
		Status:         string(inv.Status),
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
	if inv.PaymentId != "" {
		paymentID := toApiId(inv.PaymentId)
		out.PaymentId = &paymentID
	}
	return out
}

// ToDomainNewInvoice converts an API NewInvoice model to a domain Invoice model.
// The store fills in identity, status and timestamps.
func ToDomainNewInvoice(newInv *api.NewInvoice) *models.Invoice {
	inv := &models.Invoice{
		UserId:   newInv.UserId,
		Amount:   newInv.Amount,
		Currency: models.DefaultCurrency,
	}
	// A blank key means the caller did not ask for deduplication.
	if newInv.IdempotencyKey != nil {
		if key := strings.TrimSpace(*newInv.IdempotencyKey); key != "" {
			inv.IdempotencyKey = &key
		}
	}
	if newInv.Currency != nil && *newInv.Currency != "" {
		inv.Currency = *newInv.Currency
	}
	if newInv.Description != nil {
		inv.Description = *newInv.Description
	}
	return inv
}

// ToApiPayment converts a domain Payment model to an API Payment model.
func ToApiPayment(p *models.Payment) *api.Payment {
	return &api.Payment{
		Id:                toApiId(p.Id),
		InvoiceId:         toApiId(p.InvoiceId),
		UserId:            p.UserId,
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		ProviderReference: p.ProviderReference,
		Status:            string(p.Status),
		Phase:             string(p.Phase),
		Attempts:          p.Attempts,
		LastError:         p.LastError,
		Held:              p.Held,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func ToApiBalance(b *models.Balance) *api.Balance {
	return &api.Balance{
		UserId:    b.UserId,
		Balance:   b.Balance.StringFixed(2),
		Reserved:  b.Reserved.StringFixed(2),
		Available: b.Available().StringFixed(2),
		UpdatedAt: b.UpdatedAt,
	}
}
