package balances

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/mapping"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
)

// BalancesHandler holds the dependencies for balance-related handlers.
type BalancesHandler struct {
	Store storage.LedgerStore
}

// NewBalancesHandler creates a new BalancesHandler.
func NewBalancesHandler(store storage.LedgerStore) *BalancesHandler {
	return &BalancesHandler{Store: store}
}

func (h *BalancesHandler) GetBalance(w http.ResponseWriter, r *http.Request, userId string) {
	b, err := h.Store.GetBalance(r.Context(), userId)
	if err != nil {
		if errors.Is(err, storage.ErrBalanceNotFound) {
			http.Error(w, "Balance not found", http.StatusNotFound)
		} else {
			http.Error(w, fmt.Sprintf("Failed to retrieve balance: %v", err), http.StatusInternalServerError)
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, mapping.ToApiBalance(b))
}

// CreditBalance tops up a user's balance, creating the ledger row on first use.
func (h *BalancesHandler) CreditBalance(w http.ResponseWriter, r *http.Request, userId string) {
	var credit api.NewCredit
	if err := json.NewDecoder(r.Body).Decode(&credit); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := models.ValidateAmount(credit.Amount); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	b, err := h.Store.Credit(r.Context(), userId, credit.Amount)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to credit balance: %v", err), http.StatusInternalServerError)
		return
	}

	api.WriteJSON(w, http.StatusOK, mapping.ToApiBalance(b))
}
