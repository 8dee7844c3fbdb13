package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const queueKey = "queue:completions"

type envelope struct {
	Handle  string `json:"handle"`
	Payload []byte `json:"payload"`
}

// Redis is a Queue backed by a redis list. Servers submit; worker processes
// drain it with Consume.
type Redis struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedis(client *redis.Client, retention time.Duration) *Redis {
	return &Redis{client: client, retention: retention}
}

func doneKey(handle string) string {
	return fmt.Sprintf("task:%s:done", handle)
}

func (r *Redis) Submit(ctx context.Context, payload []byte) (string, error) {
	handle := shortuuid.New()
	data, err := json.Marshal(envelope{Handle: handle, Payload: payload})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal task")
	}
	if err := r.client.RPush(ctx, queueKey, data).Err(); err != nil {
		return "", errors.Wrap(err, "failed to enqueue task")
	}
	return handle, nil
}

func (r *Redis) Ready(ctx context.Context, handle string) (bool, error) {
	n, err := r.client.Exists(ctx, doneKey(handle)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to check task %s", handle)
	}
	return n > 0, nil
}

// Consume pops tasks and runs them with handler, at most concurrency at a
// time, until ctx is done. Running tasks are allowed to finish.
func (r *Redis) Consume(ctx context.Context, handler Handler, concurrency int) error {
	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	runCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		result, err := r.client.BRPop(ctx, time.Second, queueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			// A popped task is always run, even when ctx ended meanwhile.
			if ctx.Err() != nil {
				break
			}
			slog.Error("failed to pop task", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		var task envelope
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			slog.Error("dropping malformed task", "error", err)
			continue
		}
		g.Go(func() error {
			r.run(runCtx, task, handler)
			return nil
		})
	}
	return g.Wait()
}

func (r *Redis) run(ctx context.Context, task envelope, handler Handler) {
	defer func() {
		if err := r.client.Set(ctx, doneKey(task.Handle), 1, r.retention).Err(); err != nil {
			slog.Error("failed to mark task done", "task", task.Handle, "error", err)
		}
	}()
	slog.Debug("running task", "task", task.Handle)
	if err := handler(ctx, task.Payload); err != nil {
		slog.Error("task failed", "task", task.Handle, "error", err)
	}
}
