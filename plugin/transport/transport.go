// Package transport carries in-flight completion tokens from the worker that
// produces them to the relays streaming them to clients.
//
// A job is keyed by the response chat id. It has a status, an optional task
// handle and an append-only token log. There is one writer per job.
package transport

import "context"

// Status is the lifecycle of a stream job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no more tokens will be appended.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Transport interface {
	// SetStatus records the job status. Terminal statuses start the job's
	// retention period, after which the job is discarded.
	SetStatus(ctx context.Context, jobID string, status Status) error
	// Claim moves a PENDING job to STARTED and reports whether this caller
	// made the move. At most one caller wins per job.
	Claim(ctx context.Context, jobID string) (bool, error)
	// GetStatus returns "" for an unknown job.
	GetStatus(ctx context.Context, jobID string) (Status, error)
	SetTask(ctx context.Context, jobID, handle string) error
	// GetTask returns "" when no task was recorded.
	GetTask(ctx context.Context, jobID string) (string, error)
	AppendToken(ctx context.Context, jobID, token string) error
	// ReadSince returns the tokens at positions offset and later.
	ReadSince(ctx context.Context, jobID string, offset int) ([]string, error)
	Exists(ctx context.Context, jobID string) (bool, error)
	// Trim discards the job immediately.
	Trim(ctx context.Context, jobID string) error
}

// Notifier is implemented by transports that can wake readers on change
// instead of making them poll.
type Notifier interface {
	// Changed returns a channel closed on the next write to the job.
	Changed(jobID string) <-chan struct{}
}
