package dynamodb

import (
	"context"
	"fmt"
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

// GetPayment retrieves a payment from DynamoDB by its ID.
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": paymentID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.PaymentsTableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get payment from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrPaymentNotFound
	}

	var item paymentItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return item.toModel(), nil
}

// ListPayments scans the payments table and returns the newest first.
func (s *Store) ListPayments(ctx context.Context) ([]models.Payment, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.PaymentsTableName),
	}

	var payments []models.Payment
	for {
		result, err := s.Client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payments table: %w", err)
		}

		var items []paymentItem
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payments: %w", err)
		}
		for _, item := range items {
			payments = append(payments, *item.toModel())
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}

// GetOrCreatePayment uses the invoice's payment_id attribute as the
// uniqueness guard. The payment and the guard are written together; a
// caller that loses the guard reads back the winner's payment.
func (s *Store) GetOrCreatePayment(ctx context.Context, inv *models.Invoice) (*models.Payment, bool, error) {
	current, err := s.GetInvoice(ctx, inv.Id)
	if err != nil {
		return nil, false, err
	}
	if current.PaymentId != "" {
		p, err := s.GetPayment(ctx, current.PaymentId)
		return p, false, err
	}

	now := time.Now().UTC()
	p := &models.Payment{
		Id:        uuid.New().String(),
		InvoiceId: current.Id,
		UserId:    current.UserId,
		Amount:    current.Amount,
		Currency:  current.Currency,
		Status:    models.PaymentPending,
		Phase:     models.PhaseReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}

	paymentAV, err := attributevalue.MarshalMap(toPaymentItem(p))
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal payment: %w", err)
	}
	nowAV, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				// Operation 1: Link the payment to the invoice, once.
				Update: &types.Update{
					TableName:           aws.String(s.InvoicesTableName),
					Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: current.Id}},
					UpdateExpression:    aws.String("SET payment_id = :payment_id, updated_at = :now"),
					ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(payment_id)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":payment_id": &types.AttributeValueMemberS{Value: p.Id},
						":now":        nowAV,
					},
				},
			},
			{
				// Operation 2: Create the payment record.
				Put: &types.Put{
					TableName:           aws.String(s.PaymentsTableName),
					Item:                paymentAV,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	}

	if _, err := s.Client.TransactWriteItems(ctx, input); err != nil {
		if idx, ok := cancelledAt(err); ok && idx == 0 {
			winner, err := s.GetInvoice(ctx, current.Id)
			if err != nil {
				return nil, false, err
			}
			existing, err := s.GetPayment(ctx, winner.PaymentId)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}

	return p, true, nil
}

// RecordAttempt increments the attempt counter of a pending payment that is
// not held.
func (s *Store) RecordAttempt(ctx context.Context, paymentID string) (*models.Payment, error) {
	nowAV, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	return s.updatePending(ctx, paymentID, &dynamodb.UpdateItemInput{
		UpdateExpression:    aws.String("SET attempts = attempts + :one, updated_at = :now"),
		ConditionExpression: aws.String("#status = :pending AND (attribute_not_exists(held) OR held = :false)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":     &types.AttributeValueMemberN{Value: "1"},
			":now":     nowAV,
			":pending": &types.AttributeValueMemberS{Value: string(models.PaymentPending)},
			":false":   &types.AttributeValueMemberBOOL{Value: false},
		},
	}, "failed to record payment attempt")
}

// HoldPayment flags a pending payment so no later run charges it again.
func (s *Store) HoldPayment(ctx context.Context, paymentID string, reason string) (*models.Payment, error) {
	nowAV, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	return s.updatePending(ctx, paymentID, &dynamodb.UpdateItemInput{
		UpdateExpression:    aws.String("SET held = :true, last_error = :reason, updated_at = :now"),
		ConditionExpression: aws.String("#status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":    &types.AttributeValueMemberBOOL{Value: true},
			":reason":  &types.AttributeValueMemberS{Value: reason},
			":now":     nowAV,
			":pending": &types.AttributeValueMemberS{Value: string(models.PaymentPending)},
		},
	}, "failed to hold payment")
}

// updatePending runs a conditional update against one payment and returns
// the item as written.
func (s *Store) updatePending(ctx context.Context, paymentID string, input *dynamodb.UpdateItemInput, failure string) (*models.Payment, error) {
	input.TableName = aws.String(s.PaymentsTableName)
	input.Key = map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: paymentID}}
	input.ReturnValues = types.ReturnValueAllNew
	input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld

	result, err := s.Client.UpdateItem(ctx, input)
	if err != nil {
		if mapped := conditionMiss(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("%s: %w", failure, err)
	}

	var item paymentItem
	if err := attributevalue.UnmarshalMap(result.Attributes, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return item.toModel(), nil
}
