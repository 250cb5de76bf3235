package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/invoice-settlement/pkg/config"
	"github.com/chris/invoice-settlement/pkg/gateway"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/settlement"
	dydbstore "github.com/chris/invoice-settlement/pkg/storage/dynamodb"
	"github.com/chris/invoice-settlement/pkg/websockets"
	"github.com/chris/invoice-settlement/pkg/worker"
	"github.com/joho/godotenv"
)

var handler scheduler.TaskHandler

func init() {
	// Load environment variables from .env file (useful for local testing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
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

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), cfg.BalancesTable, cfg.InvoicesTable, cfg.PaymentsTable, cfg.ConnectionsTable)
	sqsScheduler := scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL)

	var publisher websockets.Publisher = &websockets.NoOpPublisher{}
	if cfg.WebsocketAPIEndpoint != "" {
		apigw, err := websockets.NewPublisher(ctx, store, store, cfg.WebsocketAPIEndpoint)
		if err != nil {
			log.Fatalf("failed to create websocket publisher: %v", err)
		}
		publisher = apigw
	}

	orchestrator := settlement.NewOrchestrator(store, gateway.NewSimulated(cfg.GatewayLatency), publisher, settlement.Options{
		Retry: settlement.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Delay:      cfg.RetryDelay,
			MaxDelay:   settlement.DefaultRetryPolicy().MaxDelay,
		},
		GatewayTimeout: cfg.GatewayTimeout,
	})
	handler = worker.NewRunner(orchestrator, sqsScheduler)
}

// HandleRequest runs every task in the batch and reports the ones that did
// not complete so SQS redelivers only those.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure

	for _, message := range sqsEvent.Records {
		var task models.Task
		if err := json.Unmarshal([]byte(message.Body), &task); err != nil {
			// A malformed body will never parse; leave it to the DLQ redrive policy.
			slog.Error("failed to unmarshal task", "messageId", message.MessageId, "error", err)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
			continue
		}

		slog.Info("processing task", "messageId", message.MessageId, "kind", task.Kind,
			"invoiceId", task.InvoiceId, "paymentId", task.PaymentId, "attempt", task.Attempt)

		if err := handler.Handle(ctx, task); err != nil {
			slog.Error("task failed", "messageId", message.MessageId, "error", err)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func main() {
	lambda.Start(HandleRequest)
}
