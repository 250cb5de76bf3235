package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	Port         string
	StoreBackend string
	DBSource     string

	BalancesTable    string
	InvoicesTable    string
	PaymentsTable    string
	ConnectionsTable string

	WebsocketAPIEndpoint string
	SQSQueueURL          string

	MaxRetries     int
	RetryDelay     time.Duration
	GatewayTimeout time.Duration
	GatewayLatency time.Duration

	WorkerCount           int
	StuckInvoiceThreshold time.Duration
	ReconcileInterval     time.Duration
}

// Load reads the configuration from the environment and validates that the
// selected store backend has what it needs.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getenv("HTTP_PORT", "8080"),
		StoreBackend:         getenv("STORE_BACKEND", BackendMemory),
		DBSource:             os.Getenv("DB_SOURCE"),
		BalancesTable:        os.Getenv("DYNAMODB_BALANCES_TABLE_NAME"),
		InvoicesTable:        os.Getenv("DYNAMODB_INVOICES_TABLE_NAME"),
		PaymentsTable:        os.Getenv("DYNAMODB_PAYMENTS_TABLE_NAME"),
		ConnectionsTable:     os.Getenv("DYNAMODB_CONNECTIONS_TABLE_NAME"),
		WebsocketAPIEndpoint: os.Getenv("WEBSOCKET_API_ENDPOINT"),
		SQSQueueURL:          os.Getenv("SQS_QUEUE_URL"),
	}

	var err error
	if cfg.MaxRetries, err = intVar("SETTLEMENT_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationVar("SETTLEMENT_RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = durationVar("GATEWAY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayLatency, err = durationVar("GATEWAY_LATENCY", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = intVar("WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if cfg.StuckInvoiceThreshold, err = durationVar("STUCK_INVOICE_THRESHOLD", 20*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = durationVar("RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("SETTLEMENT_MAX_RETRIES must not be negative")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if cfg.RetryDelay <= 0 {
		return nil, fmt.Errorf("SETTLEMENT_RETRY_DELAY must be positive")
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if cfg.GatewayLatency < 0 {
		return nil, fmt.Errorf("GATEWAY_LATENCY must not be negative")
	}
	if cfg.StuckInvoiceThreshold <= 0 {
		return nil, fmt.Errorf("STUCK_INVOICE_THRESHOLD must be positive")
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required for the postgres backend")
		}
	case BackendDynamoDB:
		if err := cfg.RequireTables(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// RequireTables reports an error unless every DynamoDB table name is set.
func (c *Config) RequireTables() error {
	if c.BalancesTable == "" || c.InvoicesTable == "" || c.PaymentsTable == "" || c.ConnectionsTable == "" {
		return fmt.Errorf("one or more DynamoDB table name environment variables are not set")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intVar(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationVar(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
