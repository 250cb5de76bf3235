package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"HTTP_PORT", "STORE_BACKEND", "DB_SOURCE",
		"DYNAMODB_BALANCES_TABLE_NAME", "DYNAMODB_INVOICES_TABLE_NAME",
		"DYNAMODB_PAYMENTS_TABLE_NAME", "DYNAMODB_CONNECTIONS_TABLE_NAME",
		"WEBSOCKET_API_ENDPOINT", "SQS_QUEUE_URL", "SETTLEMENT_MAX_RETRIES",
		"SETTLEMENT_RETRY_DELAY", "GATEWAY_TIMEOUT", "GATEWAY_LATENCY",
		"WORKER_COUNT", "STUCK_INVOICE_THRESHOLD", "RECONCILE_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults to the memory backend", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, BackendMemory, cfg.StoreBackend)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 5*time.Second, cfg.RetryDelay)
		assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, time.Duration(0), cfg.GatewayLatency)
		assert.Equal(t, 4, cfg.WorkerCount)
		assert.Equal(t, 20*time.Minute, cfg.StuckInvoiceThreshold)
		assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	})

	t.Run("reads overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("HTTP_PORT", "9090")
		t.Setenv("SETTLEMENT_MAX_RETRIES", "5")
		t.Setenv("SETTLEMENT_RETRY_DELAY", "250ms")
		t.Setenv("WORKER_COUNT", "8")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, 8, cfg.WorkerCount)
	})

	t.Run("postgres requires DB_SOURCE", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_BACKEND", BackendPostgres)

		_, err := Load()
		assert.ErrorContains(t, err, "DB_SOURCE")
	})

	t.Run("dynamodb requires every table name", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_BACKEND", BackendDynamoDB)
		t.Setenv("DYNAMODB_BALANCES_TABLE_NAME", "balances")

		_, err := Load()
		assert.Error(t, err)

		t.Setenv("DYNAMODB_INVOICES_TABLE_NAME", "invoices")
		t.Setenv("DYNAMODB_PAYMENTS_TABLE_NAME", "payments")
		t.Setenv("DYNAMODB_CONNECTIONS_TABLE_NAME", "connections")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "connections", cfg.ConnectionsTable)
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GATEWAY_TIMEOUT", "soon")
		_, err := Load()
		assert.ErrorContains(t, err, "GATEWAY_TIMEOUT")

		clearEnv(t)
		t.Setenv("WORKER_COUNT", "0")
		_, err = Load()
		assert.Error(t, err)
	})

	t.Run("rejects non positive intervals", func(t *testing.T) {
		for _, tc := range []struct{ key, value string }{
			{"RECONCILE_INTERVAL", "0s"},
			{"RECONCILE_INTERVAL", "-1m"},
			{"STUCK_INVOICE_THRESHOLD", "0s"},
			{"STUCK_INVOICE_THRESHOLD", "-5m"},
			{"SETTLEMENT_RETRY_DELAY", "0s"},
			{"GATEWAY_TIMEOUT", "-1s"},
			{"GATEWAY_LATENCY", "-1ms"},
		} {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			assert.ErrorContains(t, err, tc.key, "%s=%s", tc.key, tc.value)
		}
	})

	t.Run("rejects an unknown backend", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_BACKEND", "redis")
		_, err := Load()
		assert.ErrorContains(t, err, "redis")
	})
}
