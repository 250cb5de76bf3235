package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/invoice-settlement/pkg/metrics"
	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/chris/invoice-settlement/pkg/scheduler"
	"github.com/chris/invoice-settlement/pkg/storage"
)

// Reconciler re-enqueues invoices that have sat in pending or reserved for
// longer than the threshold, e.g. after a lost message or a crashed worker.
type Reconciler struct {
	store     storage.InvoiceReader
	scheduler scheduler.Scheduler
	threshold time.Duration
}

func NewReconciler(store storage.InvoiceReader, sched scheduler.Scheduler, threshold time.Duration) *Reconciler {
	return &Reconciler{store: store, scheduler: sched, threshold: threshold}
}

// Run performs one pass and returns how many invoices were re-enqueued.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	slog.Info("starting reconciliation of stuck invoices", "threshold", r.threshold)

	stuck, err := r.store.GetStuckInvoices(ctx, r.threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to get stuck invoices: %w", err)
	}
	if len(stuck) == 0 {
		slog.Info("no stuck invoices found")
		return 0, nil
	}

	enqueued := 0
	for _, inv := range stuck {
		if err := r.scheduler.Schedule(ctx, models.SettleTask(inv.Id, 0), 0); err != nil {
			// One failure must not stop the rest of the batch.
			slog.Error("failed to re-enqueue invoice", "invoiceId", inv.Id, "error", err)
			continue
		}
		enqueued++
		metrics.ReconciledInvoices.Inc()
		slog.Info("re-enqueued stuck invoice", "invoiceId", inv.Id, "status", inv.Status)
	}

	slog.Info("reconciliation finished", "found", len(stuck), "enqueued", enqueued)
	return enqueued, nil
}

// Start runs a pass every interval until ctx is cancelled. A non-positive
// interval disables the loop.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		slog.Warn("reconciler disabled", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				slog.Error("reconciliation failed", "error", err)
			}
		}
	}
}
