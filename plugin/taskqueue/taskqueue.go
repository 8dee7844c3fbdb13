// Package taskqueue runs completion tasks away from the request that
// submitted them.
package taskqueue

import "context"

// Handler executes one task payload.
type Handler func(ctx context.Context, payload []byte) error

type Queue interface {
	// Submit enqueues the payload and returns a handle identifying the task.
	Submit(ctx context.Context, payload []byte) (string, error)
	// Ready reports whether the task has finished running, successfully or not.
	Ready(ctx context.Context, handle string) (bool, error)
}
