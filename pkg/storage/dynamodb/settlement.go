package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
)

// ReserveInvoice reserves the invoice amount on the ledger and moves the
// invoice from pending to reserved in one transaction. A balance that cannot
// cover the amount fails the invoice instead.
func (s *Store) ReserveInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoicePending {
		return nil, storage.ErrStateConflict
	}

	now := time.Now().UTC()
	_, err = s.mutateBalance(ctx, inv.UserId, func(b *models.Balance) ([]types.TransactWriteItem, error) {
		if !b.Reserve(inv.Amount) {
			return nil, errRejected
		}
		update, err := s.invoiceTransition(inv.Id, models.InvoicePending, models.InvoiceReserved, now)
		if err != nil {
			return nil, err
		}
		return []types.TransactWriteItem{update}, nil
	})
	if errors.Is(err, errRejected) {
		if err := s.failInvoice(ctx, inv.Id, now); err != nil {
			return nil, err
		}
		return nil, storage.ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}

	inv.Status = models.InvoiceReserved
	inv.UpdatedAt = now
	return inv, nil
}

func (s *Store) failInvoice(ctx context.Context, invoiceID string, now time.Time) error {
	update, err := s.invoiceTransition(invoiceID, models.InvoicePending, models.InvoiceFailed, now)
	if err != nil {
		return err
	}

	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 update.Update.TableName,
		Key:                       update.Update.Key,
		UpdateExpression:          update.Update.UpdateExpression,
		ConditionExpression:       update.Update.ConditionExpression,
		ExpressionAttributeNames:  update.Update.ExpressionAttributeNames,
		ExpressionAttributeValues: update.Update.ExpressionAttributeValues,
	})
	if err != nil {
		if isConditionFailed(err) {
			return storage.ErrStateConflict
		}
		return fmt.Errorf("failed to mark invoice failed: %w", err)
	}
	return nil
}

// CompleteSettlement debits the reservation, marks the payment successful
// and completes the invoice in one transaction.
func (s *Store) CompleteSettlement(ctx context.Context, paymentID string, providerReference string) (*models.Payment, error) {
	p, inv, err := s.pendingPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	done := *p
	done.ProviderReference = aws.String(providerReference)
	done.Status = models.PaymentSuccess
	done.Phase = models.PhaseDebited
	done.UpdatedAt = now

	_, err = s.mutateBalance(ctx, p.UserId, func(b *models.Balance) ([]types.TransactWriteItem, error) {
		if !b.DebitReserved(p.Amount) {
			return nil, storage.ErrInsufficientReserved
		}
		return s.settlementWrites(&done, models.PaymentPending, inv.Id, models.InvoiceReserved, models.InvoiceCompleted, now)
	})
	if err != nil {
		return nil, err
	}
	return &done, nil
}

// CompensateSettlement undoes the ledger effect of a pending payment
// according to its phase and fails both the payment and the invoice.
func (s *Store) CompensateSettlement(ctx context.Context, paymentID string, providerReference *string, reason string) (*models.Payment, error) {
	p, inv, err := s.pendingPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	failed := *p
	if providerReference != nil {
		failed.ProviderReference = aws.String(*providerReference)
	}
	failed.Status = models.PaymentFailed
	failed.LastError = reason
	failed.UpdatedAt = now

	_, err = s.mutateBalance(ctx, p.UserId, func(b *models.Balance) ([]types.TransactWriteItem, error) {
		if !b.Compensate(p.Phase, p.Amount) {
			return nil, storage.ErrInsufficientReserved
		}
		return s.settlementWrites(&failed, models.PaymentPending, inv.Id, models.InvoiceReserved, models.InvoiceFailed, now)
	})
	if err != nil {
		return nil, err
	}
	return &failed, nil
}

// RefundPayment credits a successful payment back and marks it and its
// invoice refunded.
func (s *Store) RefundPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentSuccess {
		return nil, storage.ErrStateConflict
	}

	now := time.Now().UTC()
	refunded := *p
	refunded.Status = models.PaymentRefunded
	refunded.UpdatedAt = now

	_, err = s.mutateBalance(ctx, p.UserId, func(b *models.Balance) ([]types.TransactWriteItem, error) {
		b.Credit(p.Amount)
		return s.settlementWrites(&refunded, models.PaymentSuccess, p.InvoiceId, models.InvoiceCompleted, models.InvoiceRefunded, now)
	})
	if err != nil {
		return nil, err
	}
	return &refunded, nil
}

func (s *Store) pendingPayment(ctx context.Context, paymentID string) (*models.Payment, *models.Invoice, error) {
	p, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != models.PaymentPending {
		return nil, nil, storage.ErrStateConflict
	}
	inv, err := s.GetInvoice(ctx, p.InvoiceId)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != models.InvoiceReserved {
		return nil, nil, storage.ErrStateConflict
	}
	return p, inv, nil
}

// settlementWrites updates the payment conditionally on its previous status
// and moves the invoice between two statuses. Only the fields settlement owns
// are written so a concurrent attempt counter bump is never lost.
func (s *Store) settlementWrites(p *models.Payment, fromPayment models.PaymentStatus, invoiceID string, from, to models.InvoiceStatus, now time.Time) ([]types.TransactWriteItem, error) {
	nowAV, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp for payment update: %w", err)
	}

	expr := "SET #status = :status, phase = :phase, last_error = :last_error, updated_at = :now"
	values := map[string]types.AttributeValue{
		":status":     &types.AttributeValueMemberS{Value: string(p.Status)},
		":phase":      &types.AttributeValueMemberS{Value: string(p.Phase)},
		":last_error": &types.AttributeValueMemberS{Value: p.LastError},
		":now":        nowAV,
		":expected":   &types.AttributeValueMemberS{Value: string(fromPayment)},
	}
	if p.ProviderReference != nil {
		expr += ", provider_reference = :ref"
		values[":ref"] = &types.AttributeValueMemberS{Value: *p.ProviderReference}
	}

	invoiceUpdate, err := s.invoiceTransition(invoiceID, from, to, now)
	if err != nil {
		return nil, err
	}

	return []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           aws.String(s.PaymentsTableName),
				Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: p.Id}},
				UpdateExpression:    aws.String(expr),
				ConditionExpression: aws.String("#status = :expected"),
				ExpressionAttributeNames: map[string]string{
					"#status": "status",
				},
				ExpressionAttributeValues: values,
			},
		},
		invoiceUpdate,
	}, nil
}

func (s *Store) invoiceTransition(invoiceID string, from, to models.InvoiceStatus, now time.Time) (types.TransactWriteItem, error) {
	nowAV, err := attributevalue.Marshal(now)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal timestamp for status update: %w", err)
	}

	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(s.InvoicesTableName),
			Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: invoiceID}},
			UpdateExpression:    aws.String("SET #status = :to, updated_at = :now"),
			ConditionExpression: aws.String("#status = :from"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":to":   &types.AttributeValueMemberS{Value: string(to)},
				":from": &types.AttributeValueMemberS{Value: string(from)},
				":now":  nowAV,
			},
		},
	}, nil
}
