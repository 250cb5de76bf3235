package dynamodb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/storage/dynamodb/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func onTable(table string) interface{} {
	return mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return *in.TableName == table
	})
}

func testInvoice(status models.InvoiceStatus) *models.Invoice {
	return &models.Invoice{
		Id:        uuid.New().String(),
		UserId:    "user1",
		Amount:    decimal.RequireFromString("40.00"),
		Currency:  models.DefaultCurrency,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func testPayment(inv *models.Invoice, status models.PaymentStatus) *models.Payment {
	return &models.Payment{
		Id:        uuid.New().String(),
		InvoiceId: inv.Id,
		UserId:    inv.UserId,
		Amount:    inv.Amount,
		Currency:  inv.Currency,
		Status:    status,
		Phase:     models.PhaseReserved,
		Attempts:  1,
	}
}

func invoiceAV(t *testing.T, inv *models.Invoice) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toInvoiceItem(inv))
	require.NoError(t, err)
	return av
}

func paymentAV(t *testing.T, p *models.Payment) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toPaymentItem(p))
	require.NoError(t, err)
	return av
}

func TestReserveInvoice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoicePending)

		mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "100", "0", 1)}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			if len(in.TransactItems) != 2 {
				return false
			}
			update := in.TransactItems[1].Update
			return *update.TableName == "invoices" &&
				update.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberS).Value == "reserved"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		reserved, err := store.ReserveInvoice(context.Background(), inv.Id)

		require.NoError(t, err)
		assert.Equal(t, models.InvoiceReserved, reserved.Status)
		mockClient.AssertExpectations(t)
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoicePending)

		mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "10", "0", 1)}, nil).Once()
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return in.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberS).Value == "failed"
		})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

		_, err := store.ReserveInvoice(context.Background(), inv.Id)

		assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
		mockClient.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
		mockClient.AssertExpectations(t)
	})

	t.Run("Already Reserved", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoiceReserved)

		mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()

		_, err := store.ReserveInvoice(context.Background(), inv.Id)

		assert.ErrorIs(t, err, storage.ErrStateConflict)
		mockClient.AssertExpectations(t)
	})

	t.Run("Lost Race On Invoice Status", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoicePending)

		mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "100", "0", 1)}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(1, 2)).Once()

		_, err := store.ReserveInvoice(context.Background(), inv.Id)

		assert.ErrorIs(t, err, storage.ErrStateConflict)
		mockClient.AssertExpectations(t)
	})
}

func TestCompleteSettlement(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoiceReserved)
		p := testPayment(inv, models.PaymentPending)

		mockClient.On("GetItem", mock.Anything, onTable("payments")).Return(&dynamodb.GetItemOutput{Item: paymentAV(t, p)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "100", "40", 2)}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			if len(in.TransactItems) != 3 {
				return false
			}
			balance := in.TransactItems[0].Put.Item
			payment := in.TransactItems[1].Update
			return balance["balance"].(*types.AttributeValueMemberN).Value == "60" &&
				balance["reserved"].(*types.AttributeValueMemberN).Value == "0" &&
				payment.ExpressionAttributeValues[":ref"].(*types.AttributeValueMemberS).Value == "sim-abc"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		done, err := store.CompleteSettlement(context.Background(), p.Id, "sim-abc")

		require.NoError(t, err)
		assert.Equal(t, models.PaymentSuccess, done.Status)
		assert.Equal(t, models.PhaseDebited, done.Phase)
		mockClient.AssertExpectations(t)
	})

	t.Run("Reservation Missing", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoiceReserved)
		p := testPayment(inv, models.PaymentPending)

		mockClient.On("GetItem", mock.Anything, onTable("payments")).Return(&dynamodb.GetItemOutput{Item: paymentAV(t, p)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "100", "0", 2)}, nil).Once()

		_, err := store.CompleteSettlement(context.Background(), p.Id, "sim-abc")

		assert.ErrorIs(t, err, storage.ErrInsufficientReserved)
		mockClient.AssertExpectations(t)
	})

	t.Run("Payment Already Settled", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoiceCompleted)
		p := testPayment(inv, models.PaymentSuccess)

		mockClient.On("GetItem", mock.Anything, onTable("payments")).Return(&dynamodb.GetItemOutput{Item: paymentAV(t, p)}, nil).Once()

		_, err := store.CompleteSettlement(context.Background(), p.Id, "sim-abc")

		assert.ErrorIs(t, err, storage.ErrStateConflict)
		mockClient.AssertExpectations(t)
	})
}

func TestCompensateSettlement(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)
	inv := testInvoice(models.InvoiceReserved)
	p := testPayment(inv, models.PaymentPending)

	mockClient.On("GetItem", mock.Anything, onTable("payments")).Return(&dynamodb.GetItemOutput{Item: paymentAV(t, p)}, nil).Once()
	mockClient.On("GetItem", mock.Anything, onTable("invoices")).Return(&dynamodb.GetItemOutput{Item: invoiceAV(t, inv)}, nil).Once()
	mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "100", "40", 2)}, nil).Once()
	mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		balance := in.TransactItems[0].Put.Item
		payment := in.TransactItems[1].Update
		_, hasRef := payment.ExpressionAttributeValues[":ref"]
		return balance["balance"].(*types.AttributeValueMemberN).Value == "100" &&
			balance["reserved"].(*types.AttributeValueMemberN).Value == "0" &&
			payment.ExpressionAttributeValues[":last_error"].(*types.AttributeValueMemberS).Value == "declined" &&
			!hasRef
	})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	failed, err := store.CompensateSettlement(context.Background(), p.Id, nil, "declined")

	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, failed.Status)
	mockClient.AssertExpectations(t)
}

func TestRefundPayment(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoiceCompleted)
		p := testPayment(inv, models.PaymentSuccess)

		mockClient.On("GetItem", mock.Anything, onTable("payments")).Return(&dynamodb.GetItemOutput{Item: paymentAV(t, p)}, nil).Once()
		mockClient.On("GetItem", mock.Anything, onTable("balances")).Return(&dynamodb.GetItemOutput{Item: balanceAV(t, "60", "0", 3)}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			return in.TransactItems[0].Put.Item["balance"].(*types.AttributeValueMemberN).Value == "100"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		refunded, err := store.RefundPayment(context.Background(), p.Id)

		require.NoError(t, err)
		assert.Equal(t, models.PaymentRefunded, refunded.Status)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Successful", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		inv := testInvoice(models.InvoiceReserved)
		p := testPayment(inv, models.PaymentPending)

		mockClient.On("GetItem", mock.Anything, onTable("payments")).Return(&dynamodb.GetItemOutput{Item: paymentAV(t, p)}, nil).Once()

		_, err := store.RefundPayment(context.Background(), p.Id)

		assert.ErrorIs(t, err, storage.ErrStateConflict)
		mockClient.AssertExpectations(t)
	})
}
