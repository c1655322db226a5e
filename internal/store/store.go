// Package store abstracts the external key-value store the mesh persists to.
// The production implementation is Redis; an in-memory implementation with the
// same single-operation atomicity guarantees backs tests and redis-less dev.
//
// The interface deliberately exposes store-operation boundaries rather than
// transactions: callers that do check-then-act across two calls race, and
// that race window is part of the documented contract (the breaker is a soft
// governor, not a hard quota enforcer). Only IncrByFloat is atomic.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is the set of operations the ledger and breaker need from the
// external store: scalar strings, an atomic float counter, one hash per
// agent, and one append-only list per agent.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a string value with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetNX stores value only if key is absent. Returns true if the write
	// happened. Used for idempotent initialize-if-absent of default state.
	SetNX(ctx context.Context, key, value string) (bool, error)

	// IncrByFloat atomically adds delta to the float counter at key and
	// returns the new total. The counter is created at zero if absent.
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)

	// HGetAll returns all fields of the hash at key. An absent key yields an
	// empty map, not an error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet writes the given fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// RPush appends values to the list at key.
	RPush(ctx context.Context, key string, values ...string) error

	// LRange returns list elements in [start, stop], negative indexes
	// counting from the tail, Redis semantics.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of the list at key (0 if absent).
	LLen(ctx context.Context, key string) (int64, error)

	// Scan iterates keys matching pattern starting at cursor. A returned
	// cursor of 0 means iteration is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
