package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/config"
	"github.com/chris/invoice-settlement/pkg/gateway"
	"github.com/chris/invoice-settlement/pkg/handlers"
	wshandler "github.com/chris/invoice-settlement/pkg/handlers/websockets"
	"github.com/chris/invoice-settlement/pkg/middleware"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/settlement"
	"github.com/chris/invoice-settlement/pkg/storage"
	dydbstore "github.com/chris/invoice-settlement/pkg/storage/dynamodb"
	"github.com/chris/invoice-settlement/pkg/storage/memory"
	"github.com/chris/invoice-settlement/pkg/storage/postgres"
	"github.com/chris/invoice-settlement/pkg/websockets"
	"github.com/chris/invoice-settlement/pkg/worker"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	hub := websockets.NewHub()
	orchestrator := settlement.NewOrchestrator(store, gateway.NewSimulated(cfg.GatewayLatency), hub, settlement.Options{
		Retry: settlement.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Delay:      cfg.RetryDelay,
			MaxDelay:   15 * time.Minute,
		},
		GatewayTimeout: cfg.GatewayTimeout,
	})

	localScheduler := scheduler.NewLocalScheduler(cfg.WorkerCount, 1024)
	runner := worker.NewRunner(orchestrator, localScheduler)
	localScheduler.Start(ctx, runner)

	reconciler := worker.NewReconciler(store, localScheduler, cfg.StuckInvoiceThreshold)
	go reconciler.Start(ctx, cfg.ReconcileInterval)

	handler := handlers.NewApiHandler(store, localScheduler, orchestrator)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.NewStructuredLogger(logger))
	router.Use(middleware.Metrics)

	api.HandlerFromMux(handler, router)
	router.Handle("/ws", wshandler.NewLocalHandler(hub))
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.Port, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	localScheduler.Stop()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), cfg.BalancesTable, cfg.InvoicesTable, cfg.PaymentsTable, cfg.ConnectionsTable)
		return store, func() {}, nil
	default:
		return memory.New(), func() {}, nil
	}
}
