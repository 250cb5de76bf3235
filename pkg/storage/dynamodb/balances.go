package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/shopspring/decimal"
)

// errRejected is returned by a ledgerWrite when the balance cannot take the
// requested mutation. Nothing is written except a freshly created row.
var errRejected = errors.New("ledger mutation rejected")

// ledgerWrite mutates b in place and returns any writes that must commit
// together with the new balance row.
type ledgerWrite func(b *models.Balance) ([]types.TransactWriteItem, error)

// GetBalance retrieves a user's ledger row.
func (s *Store) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	b, found, err := s.loadBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrBalanceNotFound
	}
	return b, nil
}

func (s *Store) Reserve(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	return s.applyPrimitive(ctx, userID, func(b *models.Balance) bool { return b.Reserve(amount) })
}

func (s *Store) DebitReserved(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	return s.applyPrimitive(ctx, userID, func(b *models.Balance) bool { return b.DebitReserved(amount) })
}

func (s *Store) Release(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	return s.applyPrimitive(ctx, userID, func(b *models.Balance) bool { return b.Release(amount) })
}

func (s *Store) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*models.Balance, error) {
	return s.mutateBalance(ctx, userID, func(b *models.Balance) ([]types.TransactWriteItem, error) {
		b.Credit(amount)
		return nil, nil
	})
}

func (s *Store) applyPrimitive(ctx context.Context, userID string, op func(b *models.Balance) bool) (bool, error) {
	_, err := s.mutateBalance(ctx, userID, func(b *models.Balance) ([]types.TransactWriteItem, error) {
		if !op(b) {
			return nil, errRejected
		}
		return nil, nil
	})
	if errors.Is(err, errRejected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// mutateBalance reads the ledger row, applies write and commits the row
// together with the sibling writes in one transaction. The row's version
// must still match what was read; on a mismatch the whole step is re-read
// and re-applied.
func (s *Store) mutateBalance(ctx context.Context, userID string, write ledgerWrite) (*models.Balance, error) {
	for attempt := 0; attempt < s.maxVersionRetries(); attempt++ {
		b, found, err := s.loadBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		prevVersion := b.Version

		siblings, err := write(b)
		if err != nil {
			if !found {
				// The row exists from the first attempt on, even when it is rejected.
				s.createBalance(ctx, models.NewBalance(userID))
			}
			return nil, err
		}

		put, err := s.balancePut(b, prevVersion, found)
		if err != nil {
			return nil, err
		}

		input := &dynamodb.TransactWriteItemsInput{
			TransactItems: append([]types.TransactWriteItem{put}, siblings...),
		}
		_, err = s.Client.TransactWriteItems(ctx, input)
		if err == nil {
			return b, nil
		}

		idx, cancelled := cancelledAt(err)
		if !cancelled {
			return nil, fmt.Errorf("failed to execute ledger transaction: %w", err)
		}
		if idx > 0 {
			return nil, storage.ErrStateConflict
		}
	}

	return nil, storage.ErrConcurrentUpdate
}

func (s *Store) loadBalance(ctx context.Context, userID string) (*models.Balance, bool, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"user_id": userID})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal balance user ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.BalancesTableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get balance from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return models.NewBalance(userID), false, nil
	}

	var item balanceItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal balance: %w", err)
	}
	return item.toModel(), true, nil
}

func (s *Store) balancePut(b *models.Balance, prevVersion int64, exists bool) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(toBalanceItem(b))
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal balance: %w", err)
	}

	put := &types.Put{
		TableName:           aws.String(s.BalancesTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(user_id)"),
	}
	if exists {
		put.ConditionExpression = aws.String("version = :version")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", prevVersion)},
		}
	}
	return types.TransactWriteItem{Put: put}, nil
}

// createBalance is best effort: losing the race to another creator is fine.
// Any other failure is logged and the caller's result stands.
func (s *Store) createBalance(ctx context.Context, b *models.Balance) {
	item, err := attributevalue.MarshalMap(toBalanceItem(b))
	if err != nil {
		slog.Error("failed to marshal new balance", "userId", b.UserId, "error", err)
		return
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.BalancesTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(user_id)"),
	})
	if err != nil && !isConditionFailed(err) {
		slog.Error("failed to create balance row", "userId", b.UserId, "error", err)
	}
}
