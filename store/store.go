// Package store contains the shared counter store clients. A store knows
// nothing about rate-limit semantics; its single job is making the
// read-transform-write cycle of an opaque per-key state indivisible with
// respect to every other process touching the same key.
package store

import (
	"context"
	"errors"
	"time"
)

// ApplyFunc transforms the previous serialized state of a key into its
// successor. prev is nil when the key does not exist. Returning a nil next
// state means nothing is written back. The returned TTL is set on the key
// with every write so abandoned keys clean themselves up.
//
// A store may run the function more than once when an optimistic update
// loses a race, so it must be free of side effects.
type ApplyFunc func(prev []byte) (next []byte, ttl time.Duration, err error)

// Store is the coordination substrate behind the admission decisions.
type Store interface {
	// AtomicApply runs fn against the key's current state as one
	// indivisible operation and returns the state that ended up stored.
	AtomicApply(ctx context.Context, key string, fn ApplyFunc) ([]byte, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

var (
	// ErrUnavailable marks network or timeout failures talking to the store.
	ErrUnavailable = errors.New("counter store unavailable")

	// ErrContention marks an optimistic update that lost every retry.
	ErrContention = errors.New("counter store contention")
)
