package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
)

// ErrStopped is returned by Schedule once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// LocalScheduler is an in-process queue worked by a fixed pool of goroutines.
// Delayed tasks wait on a timer before they join the queue.
type LocalScheduler struct {
	workers int
	tasks   chan models.Task

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLocalScheduler creates a pool of workers over a queue of the given size.
func NewLocalScheduler(workers, queueSize int) *LocalScheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &LocalScheduler{
		workers: workers,
		tasks:   make(chan models.Task, queueSize),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}
}

// Make sure we conform to the interface
var _ Scheduler = (*LocalScheduler)(nil)

// Start launches the workers. Each task is handed to handler with ctx.
func (s *LocalScheduler) Start(ctx context.Context, handler TaskHandler) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			for {
				select {
				case <-s.done:
					return
				case task := <-s.tasks:
					if err := handler.Handle(ctx, task); err != nil {
						slog.Error("task failed", "worker", worker, "kind", task.Kind,
							"invoiceId", task.InvoiceId, "paymentId", task.PaymentId, "error", err)
					}
				}
			}
		}(i)
	}
}

func (s *LocalScheduler) Schedule(ctx context.Context, task models.Task, delay time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}

	if delay <= 0 {
		s.mu.Unlock()
		return s.enqueue(ctx, task)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.timers[timer]
		delete(s.timers, timer)
		s.mu.Unlock()
		if !pending {
			return
		}
		if err := s.enqueue(context.Background(), task); err != nil {
			slog.Error("failed to enqueue delayed task", "kind", task.Kind, "invoiceId", task.InvoiceId, "error", err)
		}
	})
	s.timers[timer] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *LocalScheduler) enqueue(ctx context.Context, task models.Task) error {
	select {
	case s.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// Stop cancels pending delayed tasks and waits for the workers to finish the
// task they are running.
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}
