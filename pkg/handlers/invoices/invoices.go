package invoices

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/mapping"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/storage"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// InvoicesHandler holds the dependencies for invoice-related handlers.
type InvoicesHandler struct {
	Store     storage.InvoiceStore
	Scheduler scheduler.Scheduler
}

// NewInvoicesHandler creates a new InvoicesHandler.
func NewInvoicesHandler(store storage.InvoiceStore, scheduler scheduler.Scheduler) *InvoicesHandler {
	return &InvoicesHandler{Store: store, Scheduler: scheduler}
}

// CreateInvoice stores a pending invoice and enqueues its settlement. A request
// repeating a known idempotency key gets the original invoice back and
// enqueues nothing.
func (h *InvoicesHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var newInv api.NewInvoice
	if err := json.NewDecoder(r.Body).Decode(&newInv); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if key := strings.TrimSpace(r.Header.Get(api.IdempotencyKeyHeader)); key != "" {
		newInv.IdempotencyKey = &key
	}
	if strings.TrimSpace(newInv.UserId) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := models.ValidateAmount(newInv.Amount); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	stored, created, err := h.Store.CreateInvoice(r.Context(), mapping.ToDomainNewInvoice(&newInv))
	if err != nil {
		slog.Error("failed to create invoice", "userId", newInv.UserId, "error", err)
		http.Error(w, fmt.Sprintf("Failed to create invoice: %v", err), http.StatusInternalServerError)
		return
	}

	if !created {
		slog.Info("idempotent invoice replay", "invoiceId", stored.Id)
		api.WriteJSON(w, http.StatusOK, mapping.ToApiInvoice(stored))
		return
	}

	// The invoice is already durable; the reconciler picks it up if enqueueing fails.
	if err := h.Scheduler.Schedule(r.Context(), models.SettleTask(stored.Id, 0), 0); err != nil {
		slog.Error("CRITICAL: invoice created but failed to enqueue settlement", "invoiceId", stored.Id, "error", err)
	}

	w.Header().Set("Location", "/invoices/"+stored.Id)
	api.WriteJSON(w, http.StatusCreated, mapping.ToApiInvoice(stored))
}

// GetInvoiceById returns a single invoice.
func (h *InvoicesHandler) GetInvoiceById(w http.ResponseWriter, r *http.Request, invoiceId openapi_types.UUID) {
	inv, err := h.Store.GetInvoice(r.Context(), invoiceId.String())
	if err != nil {
		if errors.Is(err, storage.ErrInvoiceNotFound) {
			http.Error(w, "Invoice not found", http.StatusNotFound)
		} else {
			http.Error(w, fmt.Sprintf("Failed to retrieve invoice: %v", err), http.StatusInternalServerError)
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, mapping.ToApiInvoice(inv))
}
