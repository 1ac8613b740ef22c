package quotaflow

import (
	"time"

	"go.uber.org/atomic"
)

// BreakerState represents circuit breaker state.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

var breakerStateStrings = map[BreakerState]string{
	BreakerClosed:   "closed",
	BreakerOpen:     "open",
	BreakerHalfOpen: "half-open",
}

func (s BreakerState) String() string {
	if name, ok := breakerStateStrings[s]; ok {
		return name
	}
	return "unknown"
}

// BreakerOptions configures the circuit breaker thresholds.
type BreakerOptions struct {
	// FailureThreshold is how many consecutive store failures open the circuit.
	FailureThreshold int64
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
	// OnStateChange is called after every state transition.
	OnStateChange func(from, to BreakerState)
	// Clock overrides the breaker's time source.
	Clock func() time.Time
}

// Breaker tracks counter store health and decides when calls should skip
// the store entirely. Closed is the normal path; after enough consecutive
// failures the circuit opens and everything short-circuits to the fallback
// until the cooldown elapses, at which point a single probe call decides
// whether to close again.
type Breaker struct {
	opts      BreakerOptions
	now       func() time.Time
	state     atomic.Int32
	failures  atomic.Int64
	openUntil atomic.Int64
}

// NewBreaker constructs a breaker with defaults applied.
func NewBreaker(opts BreakerOptions) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	b := &Breaker{opts: opts, now: now}
	b.state.Store(int32(BreakerClosed))
	return b
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Cooldown returns the configured open duration.
func (b *Breaker) Cooldown() time.Duration {
	return b.opts.Cooldown
}

// Allow reports whether the store may be contacted. While half-open only
// the caller that won the transition probes; everyone else stays on the
// fallback path until the probe reports back.
func (b *Breaker) Allow() bool {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().UnixNano() >= b.openUntil.Load() {
			return b.transition(BreakerOpen, BreakerHalfOpen)
		}
		return false
	default: // half-open, probe already in flight
		return false
	}
}

// OnSuccess records a successful store call.
func (b *Breaker) OnSuccess() {
	switch BreakerState(b.state.Load()) {
	case BreakerHalfOpen:
		b.failures.Store(0)
		b.transition(BreakerHalfOpen, BreakerClosed)
	case BreakerClosed:
		b.failures.Store(0)
	}
}

// OnFailure records a failed store call and opens the circuit once the
// threshold is reached. A failed probe re-opens immediately.
func (b *Breaker) OnFailure() {
	switch BreakerState(b.state.Load()) {
	case BreakerHalfOpen:
		b.openUntil.Store(b.now().Add(b.opts.Cooldown).UnixNano())
		b.transition(BreakerHalfOpen, BreakerOpen)
	case BreakerClosed:
		if b.failures.Add(1) >= b.opts.FailureThreshold {
			b.openUntil.Store(b.now().Add(b.opts.Cooldown).UnixNano())
			b.transition(BreakerClosed, BreakerOpen)
		}
	}
}

func (b *Breaker) transition(from, to BreakerState) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
	return true
}
