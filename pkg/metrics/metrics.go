package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	// SettlementOutcomes counts finished settlement runs by how they ended.
	SettlementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outcomes_total",
		Help: "Settlement runs by outcome",
	}, []string{"outcome"})

	SettlementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_retries_total",
		Help: "Settlement attempts rescheduled after a transient failure",
	})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_gateway_duration_seconds",
		Help:    "Latency distribution of provider charges",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"result"})

	ReconciledInvoices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_reconciled_invoices_total",
		Help: "Stuck invoices re-enqueued by the reconciler",
	})
)

// Outcome labels for SettlementOutcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeDeclined    = "declined"
	OutcomeNoFunds     = "insufficient_funds"
	OutcomeExhausted   = "retries_exhausted"
	OutcomeSkipped     = "skipped"
	OutcomeConsistency = "consistency_fault"
	OutcomeRefunded    = "refunded"
)
