package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
	schedmocks "github.com/chris/invoice-settlement/pkg/scheduler/mocks"
	"github.com/chris/invoice-settlement/pkg/settlement"
	"github.com/chris/invoice-settlement/pkg/storage"
	"github.com/chris/invoice-settlement/pkg/worker"
	"github.com/chris/invoice-settlement/pkg/worker/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRunner_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("Settles the invoice", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		sched := schedmocks.NewScheduler(t)
		r := worker.NewRunner(settler, sched)

		settler.On("Settle", ctx, "inv-1", 0).Return(nil).Once()

		assert.NoError(t, r.Handle(ctx, models.SettleTask("inv-1", 0)))
	})

	t.Run("Re-dispatches with the next attempt on retry", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		sched := schedmocks.NewScheduler(t)
		r := worker.NewRunner(settler, sched)

		settler.On("Settle", ctx, "inv-1", 1).Return(&settlement.RetryError{After: 10 * time.Second, Err: errors.New("timeout")}).Once()
		sched.On("Schedule", ctx, models.SettleTask("inv-1", 2), 10*time.Second).Return(nil).Once()

		assert.NoError(t, r.Handle(ctx, models.SettleTask("inv-1", 1)))
	})

	t.Run("Fails the delivery when the retry cannot be scheduled", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		sched := schedmocks.NewScheduler(t)
		r := worker.NewRunner(settler, sched)

		settler.On("Settle", ctx, "inv-1", 0).Return(&settlement.RetryError{After: time.Second}).Once()
		sched.On("Schedule", ctx, models.SettleTask("inv-1", 1), time.Second).Return(errors.New("queue down")).Once()

		assert.Error(t, r.Handle(ctx, models.SettleTask("inv-1", 0)))
	})

	t.Run("Parks consistency faults instead of failing the delivery", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		sched := schedmocks.NewScheduler(t)
		r := worker.NewRunner(settler, sched)

		fault := fmt.Errorf("%w: payment pay-1: %v", settlement.ErrConsistency, storage.ErrInsufficientReserved)
		settler.On("Settle", ctx, "inv-1", 0).Return(fault).Once()

		assert.NoError(t, r.Handle(ctx, models.SettleTask("inv-1", 0)))
		sched.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Other settlement errors still fail the delivery", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		r := worker.NewRunner(settler, schedmocks.NewScheduler(t))

		settler.On("Settle", ctx, "inv-1", 3).Return(errors.New("retries exhausted")).Once()

		assert.Error(t, r.Handle(ctx, models.SettleTask("inv-1", 3)))
	})

	t.Run("Runs refunds once", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		sched := schedmocks.NewScheduler(t)
		r := worker.NewRunner(settler, sched)

		settler.On("Refund", ctx, "pay-1").Return(nil).Once()

		assert.NoError(t, r.Handle(ctx, models.RefundTask("pay-1")))
	})

	t.Run("Swallows rejected refunds", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		r := worker.NewRunner(settler, schedmocks.NewScheduler(t))

		settler.On("Refund", ctx, "pay-1").Return(settlement.ErrRefundNotAllowed).Once()

		assert.NoError(t, r.Handle(ctx, models.RefundTask("pay-1")))
	})

	t.Run("Refund failures are logged and never redelivered", func(t *testing.T) {
		settler := mocks.NewSettler(t)
		sched := schedmocks.NewScheduler(t)
		r := worker.NewRunner(settler, sched)

		settler.On("Refund", ctx, "pay-1").Return(errors.New("connection reset")).Once()

		assert.NoError(t, r.Handle(ctx, models.RefundTask("pay-1")))
		sched.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects unknown task kinds", func(t *testing.T) {
		r := worker.NewRunner(mocks.NewSettler(t), schedmocks.NewScheduler(t))

		assert.ErrorIs(t, r.Handle(ctx, models.Task{Kind: "audit"}), worker.ErrUnknownTask)
	})
}
