// Package store defines the byte-oriented key-value contract the cache is
// built on, with Redis and in-memory implementations. All operations are
// atomic per key; no multi-key transactions are assumed. Lock acquisition is
// an atomic set-if-not-present with TTL, which is the only coordination
// primitive the rest of the system needs.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable marks connection and timeout failures talking to the
// backing store. Callers treat it as "operate without cache", never as a
// fatal error. Match with errors.Is.
var ErrUnavailable = errors.New("store: unavailable")

// IsUnavailable reports whether err indicates a store outage.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Store is a byte-oriented key-value adapter. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key, or found=false when absent.
	Get(ctx context.Context, key string) (found bool, val []byte, err error)
	// Set stores val under key with the given TTL. A non-positive TTL is
	// rejected; entries must always expire.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteByPrefix removes every key starting with prefix and returns the
	// number of keys removed. Lock keys are held in a separate keyspace and
	// are never touched.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Count returns the number of keys starting with prefix.
	Count(ctx context.Context, prefix string) (int, error)
	// AcquireLock atomically claims the computation lock for key. On
	// success it returns an owner token that must be presented to
	// ReleaseLock. ok=false means another caller holds the lock.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// ReleaseLock releases the lock for key if token still owns it. A
	// release after the lock expired and was re-acquired by someone else is
	// a no-op.
	ReleaseLock(ctx context.Context, key string, token string) error
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Close releases resources owned by the adapter.
	Close() error
}
