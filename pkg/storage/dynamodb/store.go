package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/invoice-settlement/pkg/storage"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// defaultMaxVersionRetries bounds how often a ledger write is re-read and
// re-applied after losing an optimistic version check.
const defaultMaxVersionRetries = 5

// Store implements the Storage interface using AWS DynamoDB.
type Store struct {
	Client                        DynamoDBAPI
	BalancesTableName             string
	InvoicesTableName             string
	PaymentsTableName             string
	WebsocketConnectionsTableName string
	MaxVersionRetries             int
}

// New creates a new Store.
func New(client DynamoDBAPI, balancesTable, invoicesTable, paymentsTable, connectionsTable string) *Store {
	return &Store{
		Client:                        client,
		BalancesTableName:             balancesTable,
		InvoicesTableName:             invoicesTable,
		PaymentsTableName:             paymentsTable,
		WebsocketConnectionsTableName: connectionsTable,
		MaxVersionRetries:             defaultMaxVersionRetries,
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

func (s *Store) maxVersionRetries() int {
	if s.MaxVersionRetries <= 0 {
		return defaultMaxVersionRetries
	}
	return s.MaxVersionRetries
}
