// Package store defines the coordination store contract shared by every
// Hermes instance. Claims, execution counts and cooldowns all live here;
// any store providing these operations atomically is sufficient.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any transport failure talking to the store. Callers
// branch on it to apply their documented fail-open/fail-closed policy.
var ErrUnavailable = errors.New("coordination store unavailable")

// ErrNotFound is returned by Get when a key is absent or expired
var ErrNotFound = errors.New("key not found")

// Store is the key-value contract the coordinator relies on. SetNX is the
// sole correctness primitive: it must be atomic across all processes.
type Store interface {
	// SetNX sets key to value with a TTL only if the key does not
	// already hold a live value. Returns true if the write won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally writes key with a TTL
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the live value for key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only while it holds value. Returns
	// true if the key was deleted, false if it was absent, expired or
	// held a different value. The comparison and delete are atomic.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// IncrBy atomically adds n to the counter at key, creating it with
	// the given TTL if absent, and returns the new value
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// ScanPrefix returns all live keys beginning with prefix
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}
