package handlers

import (
	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/handlers/balances"
	"github.com/chris/invoice-settlement/pkg/handlers/invoices"
	"github.com/chris/invoice-settlement/pkg/handlers/payments"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/worker"
)

// ApiHandler implements the server interface by composing the per-resource handlers.
type ApiHandler struct {
	*invoices.InvoicesHandler
	*payments.PaymentsHandler
	*balances.BalancesHandler
}

// NewApiHandler creates a new ApiHandler.
func NewApiHandler(store storage.ApiStore, sched scheduler.Scheduler, settler worker.Settler) *ApiHandler {
	return &ApiHandler{
		InvoicesHandler: invoices.NewInvoicesHandler(store, sched),
		PaymentsHandler: payments.NewPaymentsHandler(store, settler, sched),
		BalancesHandler: balances.NewBalancesHandler(store),
	}
}

// Make sure we conform to the interface
var _ api.ServerInterface = (*ApiHandler)(nil)
