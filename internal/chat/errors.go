package chat

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotStreaming is returned when a stream is requested for a chat that
	// has no content and was never dispatched.
	ErrNotStreaming = errors.New("chat is not streaming")

	// ErrStreamStalled ends a stream whose job made no progress for too long.
	ErrStreamStalled = errors.New("stream stalled")

	ErrThreadClosed   = errors.New("thread is closed")
	ErrThreadNotFound = errors.New("thread not found")
	ErrChatNotFound   = errors.New("chat not found")
)

// CostComputationError is returned when the tokenizer cannot price a message.
type CostComputationError struct {
	Key string
	Err error
}

func (e *CostComputationError) Error() string {
	return fmt.Sprintf("failed to compute cost of %s: %v", e.Key, e.Err)
}

func (e *CostComputationError) Unwrap() error {
	return e.Err
}
