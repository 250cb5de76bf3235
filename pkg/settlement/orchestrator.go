package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/invoice-settlement/pkg/gateway"
	"github.com/chris/invoice-settlement/pkg/metrics"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/websockets"
	"golang.org/x/sync/singleflight"
)

const defaultGatewayTimeout = 30 * time.Second

// Options tunes an Orchestrator.
type Options struct {
	Retry          RetryPolicy
	GatewayTimeout time.Duration
}

// Orchestrator runs the settlement saga for one invoice at a time: reserve
// funds, charge the provider outside any lock, then debit or compensate.
type Orchestrator struct {
	store          storage.SettlementStore
	gateway        gateway.Gateway
	publisher      websockets.Publisher
	retry          RetryPolicy
	gatewayTimeout time.Duration

	// sf collapses concurrent runs for the same invoice inside this process.
	sf singleflight.Group
}

// NewOrchestrator wires the saga. A nil publisher disables status pushes.
func NewOrchestrator(store storage.SettlementStore, gw gateway.Gateway, publisher websockets.Publisher, opts Options) *Orchestrator {
	if publisher == nil {
		publisher = &websockets.NoOpPublisher{}
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	return &Orchestrator{
		store:          store,
		gateway:        gw,
		publisher:      publisher,
		retry:          opts.Retry,
		gatewayTimeout: opts.GatewayTimeout,
	}
}

// Settle drives an invoice towards a terminal state. It returns nil for
// every outcome the saga handles itself, a *RetryError when the runner
// should dispatch attempt+1 later, and ErrConsistency when ledger and
// records disagree. Callers that joined a concurrent run never get the
// RetryError, so only one follow-up attempt is scheduled.
func (o *Orchestrator) Settle(ctx context.Context, invoiceID string, attempt int) error {
	leader := false
	_, err, shared := o.sf.Do("settle_"+invoiceID, func() (interface{}, error) {
		leader = true
		return nil, o.settle(ctx, invoiceID, attempt)
	})
	if !shared || leader {
		return err
	}

	slog.Debug("settlement shared with a concurrent run", "invoiceId", invoiceID)
	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		return nil
	}
	return err
}

func (o *Orchestrator) settle(ctx context.Context, invoiceID string, attempt int) error {
	log := slog.With("invoiceId", invoiceID, "attempt", attempt)

	inv, err := o.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, storage.ErrInvoiceNotFound) {
			log.Warn("invoice not found, dropping settlement")
			metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return nil
		}
		return o.retryOrGiveUp(ctx, log, nil, attempt, fmt.Errorf("failed to load invoice: %w", err))
	}

	if inv.Status.IsTerminal() {
		log.Info("invoice already settled", "status", inv.Status)
		metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	if inv.Status == models.InvoicePending {
		reserved, err := o.store.ReserveInvoice(ctx, inv.Id)
		switch {
		case errors.Is(err, storage.ErrInsufficientFunds):
			log.Info("insufficient funds, invoice failed", "userId", inv.UserId, "amount", inv.Amount)
			metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeNoFunds).Inc()
			inv.Status = models.InvoiceFailed
			o.notify(ctx, inv, nil)
			return nil
		case errors.Is(err, storage.ErrStateConflict):
			// Another run moved it first; carry on only if it is now reserved.
			if inv, err = o.store.GetInvoice(ctx, inv.Id); err != nil {
				return o.retryOrGiveUp(ctx, log, nil, attempt, fmt.Errorf("failed to reload invoice: %w", err))
			}
			if inv.Status != models.InvoiceReserved {
				log.Info("invoice moved by another run", "status", inv.Status)
				return nil
			}
		case err != nil:
			return o.retryOrGiveUp(ctx, log, nil, attempt, fmt.Errorf("failed to reserve funds: %w", err))
		default:
			inv = reserved
			o.notify(ctx, inv, nil)
		}
	}

	payment, created, err := o.store.GetOrCreatePayment(ctx, inv)
	if err != nil {
		return o.retryOrGiveUp(ctx, log, nil, attempt, fmt.Errorf("failed to get or create payment: %w", err))
	}
	log = log.With("paymentId", payment.Id)
	if created {
		log.Info("payment created")
	}
	if payment.Status != models.PaymentPending {
		log.Info("payment already finished", "status", payment.Status)
		metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}
	if payment.Held {
		log.Error("CRITICAL: payment is held for review, not charging", "reason", payment.LastError)
		metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	counted, err := o.store.RecordAttempt(ctx, payment.Id)
	if err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			log.Info("payment finished or held by another run")
			return nil
		}
		return o.retryOrGiveUp(ctx, log, payment, attempt, fmt.Errorf("failed to record attempt: %w", err))
	}
	payment = counted

	outcome, err := o.charge(ctx, inv, payment)
	if err != nil {
		return o.retryOrGiveUp(ctx, log, payment, attempt, err)
	}

	if outcome.IsApproved() {
		return o.complete(ctx, log, inv, payment, outcome, attempt)
	}
	return o.decline(ctx, log, inv, payment, outcome)
}

func (o *Orchestrator) charge(ctx context.Context, inv *models.Invoice, p *models.Payment) (gateway.Outcome, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := o.gateway.Charge(chargeCtx, gateway.ChargeRequest{
		InvoiceID: inv.Id,
		PaymentID: p.Id,
		UserID:    inv.UserId,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Attempt:   p.Attempts,
	})
	result := string(outcome.Result)
	if err != nil {
		result = "error"
	}
	metrics.GatewayLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		return gateway.Outcome{}, fmt.Errorf("failed to charge provider: %w", err)
	}
	return outcome, nil
}

func (o *Orchestrator) complete(ctx context.Context, log *slog.Logger, inv *models.Invoice, p *models.Payment, outcome gateway.Outcome, attempt int) error {
	settled, err := o.store.CompleteSettlement(ctx, p.Id, outcome.ProviderReference)
	switch {
	case errors.Is(err, storage.ErrStateConflict):
		log.Info("settlement already completed by another run")
		return nil
	case errors.Is(err, storage.ErrInsufficientReserved):
		return o.consistencyFault(ctx, log, p, err)
	case err != nil:
		return o.retryOrGiveUp(ctx, log, p, attempt, fmt.Errorf("failed to complete settlement: %w", err))
	}

	log.Info("payment settled", "providerReference", outcome.ProviderReference, "attempts", settled.Attempts)
	metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeCompleted).Inc()
	inv.Status = models.InvoiceCompleted
	o.notify(ctx, inv, settled)
	return nil
}

func (o *Orchestrator) decline(ctx context.Context, log *slog.Logger, inv *models.Invoice, p *models.Payment, outcome gateway.Outcome) error {
	ref := outcome.ProviderReference
	failed, err := o.compensate(ctx, log, p, &ref, outcome.Message)
	if err != nil || failed == nil {
		return err
	}

	log.Info("payment declined", "reason", outcome.Message)
	metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeDeclined).Inc()
	inv.Status = models.InvoiceFailed
	o.notify(ctx, inv, failed)
	return nil
}

// compensate undoes the payment's hold on the ledger. A nil payment with a
// nil error means another run already finished it.
func (o *Orchestrator) compensate(ctx context.Context, log *slog.Logger, p *models.Payment, ref *string, reason string) (*models.Payment, error) {
	failed, err := o.store.CompensateSettlement(ctx, p.Id, ref, reason)
	switch {
	case errors.Is(err, storage.ErrStateConflict):
		log.Info("payment already finished by another run")
		return nil, nil
	case errors.Is(err, storage.ErrInsufficientReserved):
		return nil, o.consistencyFault(ctx, log, p, err)
	case err != nil:
		return nil, fmt.Errorf("failed to compensate payment %s: %w", p.Id, err)
	}
	return failed, nil
}

// retryOrGiveUp turns a transient fault into a RetryError while retries
// remain. Once they are used up the payment, if any, is compensated.
func (o *Orchestrator) retryOrGiveUp(ctx context.Context, log *slog.Logger, p *models.Payment, attempt int, cause error) error {
	if delay, ok := o.retry.Next(attempt); ok {
		log.Warn("transient settlement failure, retrying", "error", cause, "retryIn", delay)
		metrics.SettlementRetries.Inc()
		return &RetryError{After: delay, Err: cause}
	}

	log.Error("settlement retries exhausted", "error", cause)
	metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeExhausted).Inc()
	if p == nil {
		return fmt.Errorf("failed to settle invoice after %d attempts: %w", attempt+1, cause)
	}

	failed, err := o.compensate(ctx, log, p, p.ProviderReference, cause.Error())
	if err != nil || failed == nil {
		return err
	}
	inv, err := o.store.GetInvoice(ctx, p.InvoiceId)
	if err != nil {
		log.Warn("failed to load invoice for notification", "error", err)
		return nil
	}
	o.notify(ctx, inv, failed)
	return nil
}

// consistencyFault holds the payment so no later attempt charges the
// provider again, then reports ErrConsistency.
func (o *Orchestrator) consistencyFault(ctx context.Context, log *slog.Logger, p *models.Payment, cause error) error {
	log.Error("CRITICAL: ledger does not hold the reservation for this payment",
		"userId", p.UserId, "amount", p.Amount, "phase", p.Phase, "error", cause)
	metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeConsistency).Inc()

	if _, err := o.store.HoldPayment(ctx, p.Id, cause.Error()); err != nil {
		log.Error("CRITICAL: failed to hold payment", "error", err)
	}
	return fmt.Errorf("%w: payment %s: %v", ErrConsistency, p.Id, cause)
}

// Refund reverses a successful payment. It runs once and its failure is
// returned to the caller.
func (o *Orchestrator) Refund(ctx context.Context, paymentID string) error {
	p, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != models.PaymentSuccess {
		slog.Info("refund rejected", "paymentId", paymentID, "status", p.Status)
		return fmt.Errorf("%w: status is %s", ErrRefundNotAllowed, p.Status)
	}

	refunded, err := o.store.RefundPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			return fmt.Errorf("%w: payment changed state", ErrRefundNotAllowed)
		}
		return fmt.Errorf("failed to refund payment %s: %w", paymentID, err)
	}

	slog.Info("payment refunded", "paymentId", paymentID, "amount", refunded.Amount)
	metrics.SettlementOutcomes.WithLabelValues(metrics.OutcomeRefunded).Inc()
	if inv, err := o.store.GetInvoice(ctx, refunded.InvoiceId); err == nil {
		o.notify(ctx, inv, refunded)
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, inv *models.Invoice, p *models.Payment) {
	if err := o.publisher.Publish(ctx, inv.UserId, websockets.NewInvoiceUpdate(inv, p)); err != nil {
		slog.Warn("failed to publish invoice update", "invoiceId", inv.Id, "error", err)
	}
}
