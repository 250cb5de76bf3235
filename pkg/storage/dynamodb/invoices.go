package dynamodb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/google/uuid"
)

const stuckInvoiceGSI = "status-created_at-index"

// CreateInvoice stores a new pending invoice. When the invoice carries an
// idempotency key, a guard item is written in the same transaction; losing
// that condition means the key is taken and the original invoice is returned.
func (s *Store) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	now := time.Now().UTC()
	stored := *inv
	stored.Id = uuid.New().String()
	stored.Status = models.InvoicePending
	stored.PaymentId = ""
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Currency == "" {
		stored.Currency = models.DefaultCurrency
	}

	slog.Log(ctx, slog.LevelDebug, "creating invoice", "invoice", stored.Id, "user_id", stored.UserId)

	invoiceAV, err := attributevalue.MarshalMap(toInvoiceItem(&stored))
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal invoice: %w", err)
	}

	if stored.IdempotencyKey == nil {
		_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.InvoicesTableName),
			Item:                invoiceAV,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to create invoice in DynamoDB: %w", err)
		}
		return &stored, true, nil
	}

	guardAV, err := attributevalue.MarshalMap(idempotencyItem{
		Id:        idempotencyItemKey(*stored.IdempotencyKey),
		InvoiceId: stored.Id,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal idempotency guard: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				// Operation 1: Claim the idempotency key.
				Put: &types.Put{
					TableName:           aws.String(s.InvoicesTableName),
					Item:                guardAV,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
			{
				// Operation 2: Create the invoice record.
				Put: &types.Put{
					TableName:           aws.String(s.InvoicesTableName),
					Item:                invoiceAV,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	}

	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		if idx, ok := cancelledAt(err); ok && idx == 0 {
			existing, err := s.invoiceForKey(ctx, *stored.IdempotencyKey)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create invoice in DynamoDB: %w", err)
	}

	return &stored, true, nil
}

func (s *Store) invoiceForKey(ctx context.Context, key string) (*models.Invoice, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.InvoicesTableName),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: idempotencyItemKey(key)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency guard from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrInvoiceNotFound
	}

	var guard idempotencyItem
	if err := attributevalue.UnmarshalMap(result.Item, &guard); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency guard: %w", err)
	}
	return s.GetInvoice(ctx, guard.InvoiceId)
}

// GetInvoice retrieves an invoice from DynamoDB by its ID.
func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	if isGuardItem(invoiceID) {
		return nil, storage.ErrInvoiceNotFound
	}

	key, err := attributevalue.MarshalMap(map[string]string{"id": invoiceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.InvoicesTableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrInvoiceNotFound
	}

	var item invoiceItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
	}
	return item.toModel(), nil
}

// GetStuckInvoices queries the status index for pending and reserved
// invoices created before now minus maxAge.
func (s *Store) GetStuckInvoices(ctx context.Context, maxAge time.Duration) ([]models.Invoice, error) {
	cutoffTime := time.Now().UTC().Add(-maxAge)
	cutoffTimeStr, err := cutoffTime.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cutoff time: %w", err)
	}

	var stuck []models.Invoice
	for _, status := range []models.InvoiceStatus{models.InvoicePending, models.InvoiceReserved} {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.InvoicesTableName),
			IndexName:              aws.String(stuckInvoiceGSI),
			KeyConditionExpression: aws.String("#status = :status AND created_at < :cutoff"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
				":cutoff": &types.AttributeValueMemberS{Value: string(cutoffTimeStr)},
			},
		}

		for {
			result, err := s.Client.Query(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("failed to query for stuck invoices: %w", err)
			}

			var items []invoiceItem
			if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stuck invoices: %w", err)
			}
			for _, item := range items {
				stuck = append(stuck, *item.toModel())
			}

			if len(result.LastEvaluatedKey) == 0 {
				break
			}
			input.ExclusiveStartKey = result.LastEvaluatedKey
		}
	}

	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].CreatedAt.Before(stuck[j].CreatedAt)
	})
	return stuck, nil
}
