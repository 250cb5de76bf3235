package scheduler

import (
	"context"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
)

// Scheduler defines the interface for a component that schedules a task for later processing.
type Scheduler interface {
	// Schedule enqueues a task to run after delay. A zero delay means as soon as possible.
	Schedule(ctx context.Context, task models.Task, delay time.Duration) error
}

// TaskHandler processes a task taken off the queue.
type TaskHandler interface {
	Handle(ctx context.Context, task models.Task) error
}
