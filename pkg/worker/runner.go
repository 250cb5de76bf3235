package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/settlement"
)

// ErrUnknownTask is returned for tasks whose kind no handler knows.
var ErrUnknownTask = errors.New("unknown task kind")

// Settler is the part of the settlement saga the runner drives.
type Settler interface {
	Settle(ctx context.Context, invoiceID string, attempt int) error
	Refund(ctx context.Context, paymentID string) error
}

// Runner executes queued tasks and owns the retry loop: a settlement that
// asks for a retry is re-dispatched with the next attempt number.
type Runner struct {
	settler   Settler
	scheduler scheduler.Scheduler
}

func NewRunner(settler Settler, sched scheduler.Scheduler) *Runner {
	return &Runner{settler: settler, scheduler: sched}
}

// Make sure we conform to the interface
var _ scheduler.TaskHandler = (*Runner)(nil)

// Handle runs one task. A returned error means the task did not complete and
// the transport should treat the delivery as failed. Consistency faults and
// refund failures are logged and never returned.
func (r *Runner) Handle(ctx context.Context, task models.Task) error {
	switch task.Kind {
	case models.TaskSettle:
		return r.settle(ctx, task)
	case models.TaskRefund:
		return r.refund(ctx, task)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTask, task.Kind)
	}
}

func (r *Runner) settle(ctx context.Context, task models.Task) error {
	err := r.settler.Settle(ctx, task.InvoiceId, task.Attempt)
	if err == nil {
		return nil
	}

	if errors.Is(err, settlement.ErrConsistency) {
		// Parked: the payment is held and redelivery would only repeat the fault.
		slog.Error("CRITICAL: settlement parked for manual review", "invoiceId", task.InvoiceId, "attempt", task.Attempt, "error", err)
		return nil
	}

	var retry *settlement.RetryError
	if !errors.As(err, &retry) {
		return fmt.Errorf("failed to settle invoice %s: %w", task.InvoiceId, err)
	}

	next := models.SettleTask(task.InvoiceId, task.Attempt+1)
	if err := r.scheduler.Schedule(ctx, next, retry.After); err != nil {
		return fmt.Errorf("failed to reschedule invoice %s: %w", task.InvoiceId, err)
	}
	slog.Info("settlement rescheduled", "invoiceId", task.InvoiceId, "attempt", next.Attempt, "delay", retry.After)
	return nil
}

// refund runs a refund task exactly once. Failures are logged and the
// delivery still counts as handled, so the transport never redelivers it.
func (r *Runner) refund(ctx context.Context, task models.Task) error {
	err := r.settler.Refund(ctx, task.PaymentId)
	switch {
	case errors.Is(err, settlement.ErrRefundNotAllowed):
		slog.Warn("refund rejected", "paymentId", task.PaymentId, "error", err)
	case err != nil:
		slog.Error("refund failed, not retrying", "paymentId", task.PaymentId, "error", err)
	}
	return nil
}
