// Package store defines the shared key-value store contract the cache engine
// coordinates through.
//
// Every process sharing one cache talks to the same store; there is no
// in-process mirror. The interface is deliberately narrow: string keys, byte
// values, sets of string members, hashes of byte fields, TTL-based
// expiration, and the two atomic primitives the engine's ordering contract
// needs (conditional set for miss-dedup locks, compare-and-delete for lock
// release).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("store: miss")

// Store is the shared store the engine persists all state in. Implementations
// must be safe for concurrent use from many goroutines and, for multi-process
// deployments, from many processes.
//
// All methods respect ctx cancellation and deadlines. Any error other than
// ErrMiss is treated by callers as store unavailability.
type Store interface {
	// Get returns the value at key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent, reporting whether it won.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if it currently holds value,
	// reporting whether the delete happened. Atomic with respect to
	// concurrent SetNX on the same key.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	// Del removes the given keys in one atomic operation. Missing keys
	// are ignored.
	Del(ctx context.Context, keys ...string) error

	// SAdd adds members to the set at key and refreshes its ttl.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error

	// SRem removes members from the set at key, deleting the set once empty.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key; empty if absent.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SUnion returns the union of the sets at the given keys.
	SUnion(ctx context.Context, keys ...string) ([]string, error)

	// HSet stores a field in the hash at key and refreshes its ttl.
	HSet(ctx context.Context, key, field string, value []byte, ttl time.Duration) error

	// HGet returns one field of the hash at key, or ErrMiss.
	HGet(ctx context.Context, key, field string) ([]byte, error)

	// HGetAll returns every field of the hash at key; empty if absent.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// HDel removes fields from the hash at key.
	HDel(ctx context.Context, key string, fields ...string) error

	// HLen returns the number of fields in the hash at key.
	HLen(ctx context.Context, key string) (int64, error)

	// Scan returns all keys matching a glob-style pattern. Used only by
	// model-wide invalidation, which is expected to be rare.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Flush removes everything this store holds.
	Flush(ctx context.Context) error
}
