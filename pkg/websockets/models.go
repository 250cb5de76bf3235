package websockets

import (
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// MessageType defines the type of a WebSocket message.
type MessageType string

const (
	// MessageTypeInvoiceUpdate is sent whenever settlement moves an invoice.
	MessageTypeInvoiceUpdate MessageType = "invoiceUpdate"
)

// Message represents a generic WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// InvoiceUpdatePayload is the payload for an invoiceUpdate message.
type InvoiceUpdatePayload struct {
	InvoiceID     string               `json:"invoice_id"`
	UserID        string               `json:"user_id"`
	Status        models.InvoiceStatus `json:"status"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentID     string               `json:"payment_id,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// NewInvoiceUpdate builds the invoiceUpdate message for an invoice and, when
// known, its payment.
func NewInvoiceUpdate(inv *models.Invoice, p *models.Payment) Message {
	payload := InvoiceUpdatePayload{
		InvoiceID: inv.Id,
		UserID:    inv.UserId,
		Status:    inv.Status,
		Amount:    inv.Amount,
	}
	if p != nil {
		payload.PaymentID = p.Id
		payload.PaymentStatus = p.Status
		payload.Reason = p.LastError
	}
	return Message{Type: MessageTypeInvoiceUpdate, Payload: payload}
}
