// Package ttl defines the ephemeral key/value surface used for nonces, jti
// replay marks, rate counters, trust flags and short-lived caches. The redis
// driver backs production; the memory driver backs tests and single-node
// deployments.
package ttl

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent or expired keys.
var ErrNotFound = errors.New("ttl: not found")

// Store is a minimal TTL key/value store.
type Store interface {
	// Get returns the value at key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key only if absent, reporting whether the write
	// happened. This is the replay primitive: the first writer of a jti
	// wins, every later writer sees a replay.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the counter at key, returning the new
	// value. Absent keys start at zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}
