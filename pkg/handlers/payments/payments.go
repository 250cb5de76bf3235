package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/mapping"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/settlement"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/worker"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// PaymentsHandler holds the dependencies for payment-related handlers.
type PaymentsHandler struct {
	Store     storage.PaymentReader
	Settler   worker.Settler
	Scheduler scheduler.Scheduler
}

// NewPaymentsHandler creates a new PaymentsHandler.
func NewPaymentsHandler(store storage.PaymentReader, settler worker.Settler, scheduler scheduler.Scheduler) *PaymentsHandler {
	return &PaymentsHandler{Store: store, Settler: settler, Scheduler: scheduler}
}

// ListPayments returns every payment, newest first.
func (h *PaymentsHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	domainPayments, err := h.Store.ListPayments(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve payments: %v", err), http.StatusInternalServerError)
		return
	}

	apiPayments := make([]*api.Payment, len(domainPayments))
	for i := range domainPayments {
		apiPayments[i] = mapping.ToApiPayment(&domainPayments[i])
	}

	api.WriteJSON(w, http.StatusOK, apiPayments)
}

func (h *PaymentsHandler) GetPaymentById(w http.ResponseWriter, r *http.Request, paymentId openapi_types.UUID) {
	p, err := h.Store.GetPayment(r.Context(), paymentId.String())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, mapping.ToApiPayment(p))
}

// RefundPayment runs the refund synchronously so a rejection reaches the caller.
// With async=true the refund is checked, queued and answered with 202.
func (h *PaymentsHandler) RefundPayment(w http.ResponseWriter, r *http.Request, paymentId openapi_types.UUID, params api.RefundPaymentParams) {
	id := paymentId.String()

	if params.Async != nil && *params.Async {
		h.queueRefund(w, r, id)
		return
	}

	if err := h.Settler.Refund(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, storage.ErrPaymentNotFound):
			http.Error(w, "Payment not found", http.StatusNotFound)
		case errors.Is(err, settlement.ErrRefundNotAllowed):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Failed to refund payment: %v", err), http.StatusInternalServerError)
		}
		return
	}

	p, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, mapping.ToApiPayment(p))
}

func (h *PaymentsHandler) queueRefund(w http.ResponseWriter, r *http.Request, paymentID string) {
	p, err := h.Store.GetPayment(r.Context(), paymentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if p.Status != models.PaymentSuccess {
		http.Error(w, fmt.Sprintf("%v: status is %s", settlement.ErrRefundNotAllowed, p.Status), http.StatusConflict)
		return
	}

	if err := h.Scheduler.Schedule(r.Context(), models.RefundTask(paymentID), 0); err != nil {
		slog.Error("failed to enqueue refund", "paymentId", paymentID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to enqueue refund: %v", err), http.StatusInternalServerError)
		return
	}

	slog.Info("refund queued", "paymentId", paymentID)
	api.WriteJSON(w, http.StatusAccepted, mapping.ToApiPayment(p))
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrPaymentNotFound) {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}
	http.Error(w, fmt.Sprintf("Failed to retrieve payment: %v", err), http.StatusInternalServerError)
}
