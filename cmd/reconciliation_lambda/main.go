package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/invoice-settlement/pkg/config"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	dydbstore "github.com/chris/invoice-settlement/pkg/storage/dynamodb"
	"github.com/chris/invoice-settlement/pkg/worker"
	"github.com/joho/godotenv"
)

var reconciler *worker.Reconciler

func init() {
	// Load environment variables for local testing.
	godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := cfg.RequireTables(); err != nil {
		log.Fatal(err)
	}
	if cfg.SQSQueueURL == "" {
		log.Fatal("SQS_QUEUE_URL environment variable not set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), cfg.BalancesTable, cfg.InvoicesTable, cfg.PaymentsTable, cfg.ConnectionsTable)
	sqsScheduler := scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL)
	reconciler = worker.NewReconciler(store, sqsScheduler, cfg.StuckInvoiceThreshold)
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) error {
	_, err := reconciler.Run(ctx)
	return err
}

func main() {
	lambda.Start(HandleRequest)
}
