package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// IdempotencyKeyHeader may carry the invoice idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// RefundPaymentParams defines parameters for RefundPayment.
type RefundPaymentParams struct {
	// Async queues the refund instead of running it before the response.
	Async *bool `form:"async,omitempty" json:"async,omitempty"`
}

// ServerInterface is the set of HTTP operations described in openapi.yaml.
type ServerInterface interface {
	// (POST /invoices)
	CreateInvoice(w http.ResponseWriter, r *http.Request)
	// (GET /invoices/{invoiceId})
	GetInvoiceById(w http.ResponseWriter, r *http.Request, invoiceId openapi_types.UUID)
	// (GET /payments)
	ListPayments(w http.ResponseWriter, r *http.Request)
	// (GET /payments/{paymentId})
	GetPaymentById(w http.ResponseWriter, r *http.Request, paymentId openapi_types.UUID)
	// (POST /payments/{paymentId}/refund)
	RefundPayment(w http.ResponseWriter, r *http.Request, paymentId openapi_types.UUID, params RefundPaymentParams)
	// (GET /balances/{userId})
	GetBalance(w http.ResponseWriter, r *http.Request, userId string)
	// (POST /balances/{userId}/credits)
	CreditBalance(w http.ResponseWriter, r *http.Request, userId string)
}

// InvalidParamFormatError reports a parameter that could not be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper binds path and query parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) bindPath(w http.ResponseWriter, r *http.Request, name string, dest interface{}) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) GetInvoiceById(w http.ResponseWriter, r *http.Request) {
	var invoiceId openapi_types.UUID
	if !siw.bindPath(w, r, "invoiceId", &invoiceId) {
		return
	}
	siw.Handler.GetInvoiceById(w, r, invoiceId)
}

func (siw *ServerInterfaceWrapper) GetPaymentById(w http.ResponseWriter, r *http.Request) {
	var paymentId openapi_types.UUID
	if !siw.bindPath(w, r, "paymentId", &paymentId) {
		return
	}
	siw.Handler.GetPaymentById(w, r, paymentId)
}

func (siw *ServerInterfaceWrapper) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var paymentId openapi_types.UUID
	if !siw.bindPath(w, r, "paymentId", &paymentId) {
		return
	}

	var params RefundPaymentParams
	if err := runtime.BindQueryParameter("form", true, false, "async", r.URL.Query(), &params.Async); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "async", Err: err})
		return
	}
	siw.Handler.RefundPayment(w, r, paymentId, params)
}

func (siw *ServerInterfaceWrapper) GetBalance(w http.ResponseWriter, r *http.Request) {
	var userId string
	if !siw.bindPath(w, r, "userId", &userId) {
		return
	}
	siw.Handler.GetBalance(w, r, userId)
}

func (siw *ServerInterfaceWrapper) CreditBalance(w http.ResponseWriter, r *http.Request) {
	var userId string
	if !siw.bindPath(w, r, "userId", &userId) {
		return
	}
	siw.Handler.CreditBalance(w, r, userId)
}

// HandlerFromMux mounts si on r. Malformed parameters are answered with 400.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
		ErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		},
	}

	r.Post("/invoices", si.CreateInvoice)
	r.Get("/invoices/{invoiceId}", wrapper.GetInvoiceById)
	r.Get("/payments", si.ListPayments)
	r.Get("/payments/{paymentId}", wrapper.GetPaymentById)
	r.Post("/payments/{paymentId}/refund", wrapper.RefundPayment)
	r.Get("/balances/{userId}", wrapper.GetBalance)
	r.Post("/balances/{userId}/credits", wrapper.CreditBalance)
	return r
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
	}
}
