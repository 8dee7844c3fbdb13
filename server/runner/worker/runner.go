// Package worker runs completions popped from the shared task queue in a
// process of their own.
package worker

import (
	"context"
	"log/slog"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/plugin/taskqueue"
)

type Runner struct {
	queue       *taskqueue.Redis
	worker      *chat.Worker
	concurrency int
}

func NewRunner(queue *taskqueue.Redis, worker *chat.Worker, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		queue:       queue,
		worker:      worker,
		concurrency: concurrency,
	}
}

// Run consumes completion tasks until ctx is done, then waits for the
// running ones to finish.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("completion worker started", "concurrency", r.concurrency)
	defer slog.Info("completion worker stopped")
	return r.queue.Consume(ctx, r.worker.Handle, r.concurrency)
}
