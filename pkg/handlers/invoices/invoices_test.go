package invoices_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chris/invoice-settlement/pkg/api"
	"github.com/chris/invoice-settlement/pkg/handlers/invoices"
	"github.com/chris/invoice-settlement/pkg/models"
	schedmocks "github.com/chris/invoice-settlement/pkg/scheduler/mocks"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/storage/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func postInvoice(h *invoices.InvoicesHandler, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/invoices", bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.CreateInvoice(rr, req)
	return rr
}

const (
	invoiceID = "5f0c6f0e-8a3e-4c53-9a4b-2f1d7c0e9a12"
	paymentID = "0b9f3f8e-1c2d-4e5f-8a9b-7c6d5e4f3a21"
)

func TestCreateInvoice(t *testing.T) {
	stored := &models.Invoice{
		Id:       invoiceID,
		UserId:   "user-1",
		Amount:   decimal.RequireFromString("40.00"),
		Currency: "USD",
		Status:   models.InvoicePending,
	}
	body := map[string]interface{}{"user_id": "user-1", "amount": "40.00"}

	t.Run("Success enqueues one settlement", func(t *testing.T) {
		store := mocks.NewApiStore(t)
		sched := schedmocks.NewScheduler(t)
		h := invoices.NewInvoicesHandler(store, sched)

		store.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(inv *models.Invoice) bool {
			return inv.UserId == "user-1" && inv.Amount.Equal(decimal.RequireFromString("40")) && inv.Currency == "USD"
		})).Return(stored, true, nil).Once()
		sched.On("Schedule", mock.Anything, models.SettleTask(invoiceID, 0), mock.Anything).Return(nil).Once()

		rr := postInvoice(h, body, nil)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "/invoices/"+invoiceID, rr.Header().Get("Location"))
		var got api.Invoice
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, invoiceID, got.Id.String())
		assert.Equal(t, "40.00", got.Amount)
		assert.Equal(t, "pending", got.Status)
	})

	t.Run("Known idempotency key returns the original without a new task", func(t *testing.T) {
		store := mocks.NewApiStore(t)
		sched := schedmocks.NewScheduler(t)
		h := invoices.NewInvoicesHandler(store, sched)

		store.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(inv *models.Invoice) bool {
			return inv.IdempotencyKey != nil && *inv.IdempotencyKey == "key-1"
		})).Return(stored, false, nil).Once()

		rr := postInvoice(h, body, map[string]string{api.IdempotencyKeyHeader: "key-1"})

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Blank idempotency keys do not merge requests from different users", func(t *testing.T) {
		store := mocks.NewApiStore(t)
		sched := schedmocks.NewScheduler(t)
		h := invoices.NewInvoicesHandler(store, sched)

		for _, user := range []string{"alice", "bob"} {
			user := user
			store.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(inv *models.Invoice) bool {
				return inv.UserId == user && inv.IdempotencyKey == nil
			})).Return(&models.Invoice{Id: uuid.New().String(), UserId: user, Amount: decimal.RequireFromString("7"), Status: models.InvoicePending}, true, nil).Once()
		}
		sched.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

		alice := postInvoice(h, map[string]interface{}{"user_id": "alice", "amount": "40.00", "idempotency_key": ""}, nil)
		bob := postInvoice(h, map[string]interface{}{"user_id": "bob", "amount": "7.00", "idempotency_key": "   "}, nil)

		require.Equal(t, http.StatusCreated, alice.Code)
		require.Equal(t, http.StatusCreated, bob.Code)
		var a, b api.Invoice
		require.NoError(t, json.Unmarshal(alice.Body.Bytes(), &a))
		require.NoError(t, json.Unmarshal(bob.Body.Bytes(), &b))
		assert.NotEqual(t, a.Id, b.Id)
		assert.Equal(t, "bob", b.UserId)
	})

	t.Run("Non positive amounts are rejected", func(t *testing.T) {
		h := invoices.NewInvoicesHandler(mocks.NewApiStore(t), schedmocks.NewScheduler(t))

		rr := postInvoice(h, map[string]interface{}{"user_id": "user-1", "amount": "-5"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

		rr = postInvoice(h, map[string]interface{}{"user_id": "user-1", "amount": "1.005"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("Missing user is rejected", func(t *testing.T) {
		h := invoices.NewInvoicesHandler(mocks.NewApiStore(t), schedmocks.NewScheduler(t))

		rr := postInvoice(h, map[string]interface{}{"amount": "5"}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Malformed body", func(t *testing.T) {
		h := invoices.NewInvoicesHandler(mocks.NewApiStore(t), schedmocks.NewScheduler(t))

		req := httptest.NewRequest(http.MethodPost, "/invoices", bytes.NewReader([]byte("{")))
		rr := httptest.NewRecorder()
		h.CreateInvoice(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Enqueue failure still returns the invoice", func(t *testing.T) {
		store := mocks.NewApiStore(t)
		sched := schedmocks.NewScheduler(t)
		h := invoices.NewInvoicesHandler(store, sched)

		store.On("CreateInvoice", mock.Anything, mock.Anything).Return(stored, true, nil).Once()
		sched.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("queue down")).Once()

		rr := postInvoice(h, body, nil)
		assert.Equal(t, http.StatusCreated, rr.Code)
	})
}

func TestGetInvoiceById(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store := mocks.NewApiStore(t)
		h := invoices.NewInvoicesHandler(store, nil)
		store.On("GetInvoice", mock.Anything, invoiceID).Return(&models.Invoice{Id: invoiceID, PaymentId: paymentID, Status: models.InvoiceCompleted}, nil).Once()

		rr := httptest.NewRecorder()
		h.GetInvoiceById(rr, httptest.NewRequest(http.MethodGet, "/invoices/"+invoiceID, nil), uuid.MustParse(invoiceID))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got api.Invoice
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		require.NotNil(t, got.PaymentId)
		assert.Equal(t, paymentID, got.PaymentId.String())
	})

	t.Run("Not Found", func(t *testing.T) {
		store := mocks.NewApiStore(t)
		h := invoices.NewInvoicesHandler(store, nil)
		missing := uuid.New()
		store.On("GetInvoice", mock.Anything, missing.String()).Return(nil, storage.ErrInvoiceNotFound).Once()

		rr := httptest.NewRecorder()
		h.GetInvoiceById(rr, httptest.NewRequest(http.MethodGet, "/invoices/"+missing.String(), nil), missing)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
