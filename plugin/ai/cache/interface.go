// Package cache holds short-lived derived values, such as the token cost of
// finished edit sessions, in process memory.
package cache

import (
	"context"
	"time"
)

// Cache is the byte-oriented cache contract used by the usage service.
type Cache interface {
	// Get returns the value and whether it was present and not expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value. A ttl <= 0 uses the cache default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate drops one key, or every key sharing a prefix when pattern
	// ends with "*" (conversation:42:*).
	Invalidate(ctx context.Context, pattern string) error
}
