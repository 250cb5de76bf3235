package dynamodb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/shopspring/decimal"
)

// idempotencyPrefix marks guard items in the invoices table. They carry no
// status attribute, so the status GSI never sees them.
const idempotencyPrefix = "IDEMPOTENCY#"

// number stores a decimal as a DynamoDB N attribute without going through float64.
type number decimal.Decimal

func (n number) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: decimal.Decimal(n).String()}, nil
}

func (n *number) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	v, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return errors.New("decimal attribute is not a number")
	}
	d, err := decimal.NewFromString(v.Value)
	if err != nil {
		return fmt.Errorf("failed to parse decimal attribute: %w", err)
	}
	*n = number(d)
	return nil
}

func (n number) String() string {
	return decimal.Decimal(n).String()
}

type balanceItem struct {
	UserId    string    `dynamodbav:"user_id"`
	Balance   number    `dynamodbav:"balance"`
	Reserved  number    `dynamodbav:"reserved"`
	Version   int64     `dynamodbav:"version"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

func toBalanceItem(b *models.Balance) balanceItem {
	return balanceItem{
		UserId:    b.UserId,
		Balance:   number(b.Balance),
		Reserved:  number(b.Reserved),
		Version:   b.Version,
		UpdatedAt: b.UpdatedAt,
	}
}

func (i balanceItem) toModel() *models.Balance {
	return &models.Balance{
		UserId:    i.UserId,
		Balance:   decimal.Decimal(i.Balance),
		Reserved:  decimal.Decimal(i.Reserved),
		Version:   i.Version,
		UpdatedAt: i.UpdatedAt,
	}
}

type invoiceItem struct {
	Id             string    `dynamodbav:"id"`
	UserId         string    `dynamodbav:"user_id"`
	Amount         number    `dynamodbav:"amount"`
	Currency       string    `dynamodbav:"currency"`
	Description    string    `dynamodbav:"description"`
	IdempotencyKey *string   `dynamodbav:"idempotency_key,omitempty"`
	Status         string    `dynamodbav:"status"`
	PaymentId      string    `dynamodbav:"payment_id,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}

func toInvoiceItem(inv *models.Invoice) invoiceItem {
	return invoiceItem{
		Id:             inv.Id,
		UserId:         inv.UserId,
		Amount:         number(inv.Amount),
		Currency:       inv.Currency,
		Description:    inv.Description,
		IdempotencyKey: inv.IdempotencyKey,
		Status:         string(inv.Status),
		PaymentId:      inv.PaymentId,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func (i invoiceItem) toModel() *models.Invoice {
	return &models.Invoice{
		Id:             i.Id,
		UserId:         i.UserId,
		Amount:         decimal.Decimal(i.Amount),
		Currency:       i.Currency,
		Description:    i.Description,
		IdempotencyKey: i.IdempotencyKey,
		Status:         models.InvoiceStatus(i.Status),
		PaymentId:      i.PaymentId,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// idempotencyItem reserves an idempotency key for exactly one invoice.
type idempotencyItem struct {
	Id        string `dynamodbav:"id"`
	InvoiceId string `dynamodbav:"invoice_id"`
}

func idempotencyItemKey(key string) string {
	return idempotencyPrefix + key
}

func isGuardItem(id string) bool {
	return strings.HasPrefix(id, idempotencyPrefix)
}

type paymentItem struct {
	Id                string    `dynamodbav:"id"`
	InvoiceId         string    `dynamodbav:"invoice_id"`
	UserId            string    `dynamodbav:"user_id"`
	Amount            number    `dynamodbav:"amount"`
	Currency          string    `dynamodbav:"currency"`
	ProviderReference *string   `dynamodbav:"provider_reference,omitempty"`
	Status            string    `dynamodbav:"status"`
	Phase             string    `dynamodbav:"phase"`
	Attempts          int       `dynamodbav:"attempts"`
	LastError         string    `dynamodbav:"last_error"`
	Held              bool      `dynamodbav:"held,omitempty"`
	CreatedAt         time.Time `dynamodbav:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at"`
}

func toPaymentItem(p *models.Payment) paymentItem {
	return paymentItem{
		Id:                p.Id,
		InvoiceId:         p.InvoiceId,
		UserId:            p.UserId,
		Amount:            number(p.Amount),
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

func (i paymentItem) toModel() *models.Payment {
	return &models.Payment{
		Id:                i.Id,
		InvoiceId:         i.InvoiceId,
		UserId:            i.UserId,
		Amount:            decimal.Decimal(i.Amount),
		Currency:          i.Currency,
		ProviderReference: i.ProviderReference,
		Status:            models.PaymentStatus(i.Status),
		Phase:             models.PaymentPhase(i.Phase),
		Attempts:          i.Attempts,
		LastError:         i.LastError,
		Held:              i.Held,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

// cancelledAt reports which item of a cancelled TransactWriteItems call
// failed its condition check.
func cancelledAt(err error) (int, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return 0, false
	}
	for i, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return 0, false
}

func isConditionFailed(err error) bool {
	var condCheckFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condCheckFailed)
}

// conditionMiss maps a failed conditional write on a payment and returns nil
// for any other error. The request must ask for ALL_OLD on condition
// failure, so an empty item means the payment does not exist.
func conditionMiss(err error) error {
	var condCheckFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &condCheckFailed) {
		return nil
	}
	if len(condCheckFailed.Item) == 0 {
		return storage.ErrPaymentNotFound
	}
	return storage.ErrStateConflict
}
