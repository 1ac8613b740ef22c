// Package policy maps caller identities to concrete rate-limit policies.
// Policies come from a YAML document mapping policy keys to algorithm
// parameters, with an identity override table and one default policy.
// Resolution is cached briefly per identity and the whole configuration is
// swapped atomically on reload.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm names a limiting strategy.
type Algorithm string

const (
	FixedWindow    Algorithm = "fixed_window"
	SlidingLog     Algorithm = "sliding_log"
	SlidingCounter Algorithm = "sliding_counter"
	TokenBucket    Algorithm = "token_bucket"
	LeakyBucket    Algorithm = "leaky_bucket"
)

// FallbackMode is what a policy does while the counter store is out.
type FallbackMode string

const (
	// FailClosed denies everything while degraded. The default: for abuse
	// prevention, a store outage should not turn the limiter off.
	FailClosed FallbackMode = "closed"

	// FailOpen admits everything while degraded.
	FailOpen FallbackMode = "open"

	// FailLocal counts approximately in process-local memory while degraded.
	FailLocal FallbackMode = "local"
)

// ErrNotFound means an identity could not be mapped to any policy. With a
// validated configuration this cannot happen at runtime; seeing it means
// the default policy is missing, which is a startup defect.
var ErrNotFound = errors.New("rate limit policy not found")

// Policy is an immutable snapshot of one limiting policy. It is never
// mutated after construction; configuration reloads build new values.
type Policy struct {
	Key             string
	Algorithm       Algorithm
	Limit           int64
	Window          time.Duration
	RefillPerSecond float64
	Burst           int64
	Fallback        FallbackMode
}

// Capacity is the burst capacity for the bucket algorithms, defaulting to
// the limit when no explicit burst is configured.
func (p *Policy) Capacity() float64 {
	if p.Burst > 0 {
		return float64(p.Burst)
	}
	return float64(p.Limit)
}

// RefillRate is the steady-state rate in units per second, derived from
// the window when not configured directly.
func (p *Policy) RefillRate() float64 {
	if p.RefillPerSecond > 0 {
		return p.RefillPerSecond
	}
	if p.Window > 0 {
		return float64(p.Limit) / p.Window.Seconds()
	}
	return 0
}

func (p *Policy) validate() error {
	switch p.Algorithm {
	case FixedWindow, SlidingLog, SlidingCounter:
		if p.Limit <= 0 {
			return fmt.Errorf("policy %q: limit must be positive", p.Key)
		}
		if p.Window <= 0 {
			return fmt.Errorf("policy %q: window must be positive", p.Key)
		}
	case TokenBucket, LeakyBucket:
		if p.Capacity() <= 0 {
			return fmt.Errorf("policy %q: capacity must be positive", p.Key)
		}
		if p.RefillRate() <= 0 {
			return fmt.Errorf("policy %q: refill rate must be positive", p.Key)
		}
	default:
		return fmt.Errorf("policy %q: unknown algorithm %q", p.Key, p.Algorithm)
	}
	switch p.Fallback {
	case FailClosed, FailOpen, FailLocal:
	default:
		return fmt.Errorf("policy %q: unknown fallback mode %q", p.Key, p.Fallback)
	}
	return nil
}
