// Package statestore provides the key/value primitives that hold
// per-deployment runtime state: atomic counters, expiring values, field maps
// and score-ordered windows. RedisStore shares state across gateway
// processes; MemoryStore keeps it in-process; GuardedStore puts a circuit
// breaker in front of a shared store and serves from memory while it is down.
package statestore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the store could not be reached (network, timeout,
	// pool exhaustion, cluster down). GuardedStore degrades on it.
	ErrUnavailable = errors.New("state store unavailable")

	// ErrUnexpectedData means the store answered with something that cannot
	// be interpreted (wrong type, unparsable value). It indicates a bug or
	// key collision and never triggers degraded mode.
	ErrUnexpectedData = errors.New("state store returned unexpected data")
)

// ZMember is one scored entry of a window.
type ZMember struct {
	Score  float64
	Member string
}

// Store is the shared state store contract. Every mutation is atomic on
// the store side; callers never read-modify-write.
type Store interface {
	// IncrBy adds delta to an integer key and returns the new value.
	// A positive ttl (re)sets the key expiry.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// DecrFloor decrements an integer key without going below zero.
	DecrFloor(ctx context.Context, key string) (int64, error)

	// GetInts reads integer keys; missing keys read as zero.
	GetInts(ctx context.Context, keys []string) ([]int64, error)

	// SetEX stores a value that expires after ttl.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error

	// MGet returns the values of the keys that exist.
	MGet(ctx context.Context, keys []string) (map[string]string, error)

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// HSet sets fields of a field map.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HIncrBy increments one field, sets the others, and returns the new value of the incremented field.
	HIncrBy(ctx context.Context, key, field string, delta int64, set map[string]string) (int64, error)

	// HGetAll reads several field maps; missing maps are omitted.
	HGetAll(ctx context.Context, keys []string) (map[string]map[string]string, error)

	// ZAddWindow adds a member and drops every member scored below minScore.
	ZAddWindow(ctx context.Context, key string, m ZMember, minScore float64, ttl time.Duration) error

	// ZRangeWindow drops members scored below minScore and returns the rest in score order.
	ZRangeWindow(ctx context.Context, keys []string, minScore float64) (map[string][]ZMember, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Lease undoes one counter increment and returns the counter's new value.
type Lease func(ctx context.Context) (int64, error)

// Leaser is implemented by stores that serve a key from more than one place
// over time. The returned Lease decrements the copy that took the increment.
type Leaser interface {
	IncrLease(ctx context.Context, key string, ttl time.Duration) (int64, Lease, error)
}
