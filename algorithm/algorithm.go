// Package algorithm contains the pure rate-limiting strategies. A strategy
// is a deterministic function of (previous state, arrival time, cost) and
// never talks to a store, which keeps every algorithm unit-testable on its
// own and leaves atomicity entirely to the store client applying it.
package algorithm

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCost is returned by every strategy when Apply is handed a
// negative cost.
var ErrInvalidCost = errors.New("cost must not be negative")

// Outcome is the admission decision produced by a single Apply call.
type Outcome struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
	// RetryAfter is how long the caller should wait before trying again.
	// It is zero when the request was allowed.
	RetryAfter time.Duration
}

// Strategy applies one request of the given cost against a serialized
// counter state.
type Strategy interface {
	// Apply computes the successor state and the decision. A nil state
	// means the key has never been seen. A nil next state means nothing
	// needs to be written back; cost-0 peeks always take that path.
	Apply(state []byte, now time.Time, cost int64) (next []byte, out Outcome, err error)

	// IdleTTL reports how long a key may sit untouched before its state
	// stops mattering and can expire from the store.
	IdleTTL() time.Duration
}

func checkCost(cost int64) error {
	if cost < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCost, cost)
	}
	return nil
}

func clampRemaining(remaining int64) int64 {
	if remaining < 0 {
		return 0
	}
	return remaining
}
