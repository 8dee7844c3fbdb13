package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/semaphore"
)

// Local runs tasks on goroutines of the submitting process, at most
// concurrency at a time. Tasks run under a context detached from the
// submitter so a dropped request never cancels a completion.
type Local struct {
	// Dropped, when set, receives the payload of every task that never got
	// a slot before Shutdown. Set it before the first Submit.
	Dropped Handler

	handler   Handler
	sem       *semaphore.Weighted
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	done map[string]chan struct{}
}

func NewLocal(handler Handler, concurrency int64, retention time.Duration) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		handler:   handler,
		sem:       semaphore.NewWeighted(concurrency),
		retention: retention,
		ctx:       ctx,
		cancel:    cancel,
		done:      map[string]chan struct{}{},
	}
}

func (l *Local) Submit(_ context.Context, payload []byte) (string, error) {
	handle := shortuuid.New()
	done := make(chan struct{})
	l.mu.Lock()
	l.done[handle] = done
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.finish(handle, done)

		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			slog.Warn("task dropped on shutdown", "task", handle)
			if l.Dropped != nil {
				if err := l.Dropped(context.Background(), payload); err != nil {
					slog.Error("failed to release dropped task", "task", handle, "error", err)
				}
			}
			return
		}
		defer l.sem.Release(1)

		if err := l.handler(context.Background(), payload); err != nil {
			slog.Error("task failed", "task", handle, "error", err)
		}
	}()
	return handle, nil
}

func (l *Local) finish(handle string, done chan struct{}) {
	close(done)
	time.AfterFunc(l.retention, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.done, handle)
	})
}

// Ready reports unknown handles as ready: they finished long enough ago to
// have been forgotten.
func (l *Local) Ready(_ context.Context, handle string) (bool, error) {
	l.mu.Lock()
	done, ok := l.done[handle]
	l.mu.Unlock()
	if !ok {
		return true, nil
	}
	select {
	case <-done:
		return true, nil
	default:
		return false, nil
	}
}

// Shutdown drops tasks still waiting for a slot and waits for running ones,
// or for ctx to end.
func (l *Local) Shutdown(ctx context.Context) error {
	l.cancel()
	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
