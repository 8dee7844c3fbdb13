package store

import "github.com/pkg/errors"

var (
	// ErrInvalidChain is returned when an append names a previous chat that
	// belongs to a different thread (or does not exist).
	ErrInvalidChain = errors.New("previous chat not in same thread")

	// ErrChainConflict is returned when a concurrent append already took the
	// order slot. Callers retry with a freshly read head.
	ErrChainConflict = errors.New("chat order already taken")

	// ErrChatSettled is returned when settling a chat that is no longer pending.
	ErrChatSettled = errors.New("chat already settled")
)
