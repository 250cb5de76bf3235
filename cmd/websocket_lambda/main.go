package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/invoice-settlement/pkg/config"
	wshandler "github.com/chris/invoice-settlement/pkg/handlers/websockets"
	dydbstore "github.com/chris/invoice-settlement/pkg/storage/dynamodb"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := cfg.RequireTables(); err != nil {
		log.Fatal(err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), cfg.BalancesTable, cfg.InvoicesTable, cfg.PaymentsTable, cfg.ConnectionsTable)
	handler := wshandler.NewHandler(store)

	lambda.Start(handler.Route)
}
