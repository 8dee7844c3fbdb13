// Package cache stores integer values shared by every request the process
// (or, with redis, the deployment) serves. Entries never expire.
package cache

import "context"

// Cache is a keyed integer store.
type Cache interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (int, bool, error)
	// Set stores value under key without expiry.
	Set(ctx context.Context, key string, value int) error
}
