package quotaflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/algorithm"
	"github.com/quotaflow/quotaflow/policy"
	"github.com/quotaflow/quotaflow/store"
)

// ErrInvalidCost is returned when a caller passes a negative cost. Cost 0
// is a peek; anything else must be positive. It is the algorithm package's
// sentinel, so errors.Is matches at either layer.
var ErrInvalidCost = algorithm.ErrInvalidCost

// Status reports how a decision was reached.
type Status int

const (
	StatusAllowed Status = iota
	StatusDenied
	StatusDegradedAllowed
	StatusDegradedDenied
)

// Status strings for logs and HTTP headers
var statusStrings = map[Status]string{
	StatusAllowed:         "allowed",
	StatusDenied:          "denied",
	StatusDegradedAllowed: "degraded-allowed",
	StatusDegradedDenied:  "degraded-denied",
}

func (s Status) String() string {
	if name, ok := statusStrings[s]; ok {
		return name
	}
	return "unknown"
}

// Degraded reports whether the decision was made on the fallback path,
// without the shared counter store. Callers can use this to tell "limited"
// apart from "limiter unavailable".
func (s Status) Degraded() bool {
	return s == StatusDegradedAllowed || s == StatusDegradedDenied
}

// Result is the outcome of one admission check. It is produced fresh per
// call and never persisted.
type Result struct {
	Status    Status
	Allowed   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
	// RetryAfter is non-zero only when the request was not allowed.
	RetryAfter time.Duration
}

const defaultStoreTimeout = 100 * time.Millisecond

// Controller is the public-facing admission controller: it resolves the
// caller's policy, applies the policy's algorithm atomically against the
// shared counter store, and falls back to the policy's degraded mode when
// the store is unreachable. It holds no cross-call locks of its own; all
// cross-instance coordination happens through the store.
type Controller struct {
	store    store.Store
	resolver *policy.Resolver
	breaker  *Breaker
	local    *localFallback
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithClock overrides the controller's time source.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithStoreTimeout bounds how long a single admission check may block on
// store I/O. On timeout the call is treated as a store failure.
func WithStoreTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) ControllerOption {
	return func(c *Controller) { c.breaker = b }
}

// NewController creates an admission controller. The store client is
// injected; its connection lifecycle belongs to the caller.
func NewController(st store.Store, resolver *policy.Resolver, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:    st,
		resolver: resolver,
		local:    newLocalFallback(),
		logger:   zap.NewNop(),
		now:      time.Now,
		timeout:  defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(BreakerOptions{
			OnStateChange: func(from, to BreakerState) {
				c.logger.Info("circuit breaker state changed",
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}
	return c
}

// Resolver exposes the policy resolver, e.g. for configuration reloads.
func (c *Controller) Resolver() *policy.Resolver {
	return c.resolver
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Controller) Breaker() *Breaker {
	return c.breaker
}

// TryAcquire decides whether one unit of work with the given cost is
// permitted right now for the identity. Every return with a nil error
// carries a well-formed Result; store trouble never leaves the caller
// without a decision. A committed quota consumption is final even if the
// caller then abandons the request.
func (c *Controller) TryAcquire(ctx context.Context, identity string, cost int64) (*Result, error) {
	if cost < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCost, cost)
	}

	p, err := c.resolver.Resolve(identity)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if !c.breaker.Allow() {
		return c.degraded(p, identity, cost, now), nil
	}

	strategy := strategyFor(p)
	key := storageKey(identity, p.Key)

	var out algorithm.Outcome
	applyCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = c.store.AtomicApply(applyCtx, key, func(prev []byte) ([]byte, time.Duration, error) {
		next, o, applyErr := strategy.Apply(prev, now, cost)
		if applyErr != nil {
			return nil, 0, applyErr
		}
		out = o
		return next, strategy.IdleTTL(), nil
	})
	if err != nil {
		if isStoreFailure(err) {
			c.breaker.OnFailure()
			c.logger.Warn("counter store failed, taking fallback path",
				zap.String("identity", identity),
				zap.String("policy", p.Key),
				zap.Error(err))
			return c.degraded(p, identity, cost, now), nil
		}
		return nil, err
	}
	c.breaker.OnSuccess()

	status := StatusDenied
	if out.Allowed {
		status = StatusAllowed
	}
	return &Result{
		Status:     status,
		Allowed:    out.Allowed,
		Remaining:  out.Remaining,
		Limit:      out.Limit,
		ResetAt:    out.ResetAt,
		RetryAfter: out.RetryAfter,
	}, nil
}

// Peek reports the current budget for an identity without consuming any
// of it. Peeks never mutate state, so repeating them is free.
func (c *Controller) Peek(ctx context.Context, identity string) (*Result, error) {
	return c.TryAcquire(ctx, identity, 0)
}

// degraded produces a decision without the shared store, per the policy's
// fallback mode. Contention that exhausted its retries lands here too; the
// engine never silently admits around the documented fallback behavior.
func (c *Controller) degraded(p *policy.Policy, identity string, cost int64, now time.Time) *Result {
	limit := effectiveLimit(p)

	switch p.Fallback {
	case policy.FailOpen:
		return &Result{
			Status:    StatusDegradedAllowed,
			Allowed:   true,
			Remaining: limit,
			Limit:     limit,
		}
	case policy.FailLocal:
		allowed, remaining, retryAfter := c.local.allow(storageKey(identity, p.Key), p, cost, now)
		status := StatusDegradedDenied
		if allowed {
			status = StatusDegradedAllowed
		}
		return &Result{
			Status:     status,
			Allowed:    allowed,
			Remaining:  remaining,
			Limit:      limit,
			RetryAfter: retryAfter,
		}
	default: // fail closed
		if cost == 0 {
			return &Result{Status: StatusDegradedAllowed, Allowed: true, Limit: limit}
		}
		return &Result{
			Status:     StatusDegradedDenied,
			Allowed:    false,
			Limit:      limit,
			RetryAfter: c.breaker.Cooldown(),
		}
	}
}

// isStoreFailure classifies errors that must feed the circuit breaker.
// Context errors are included: a probe the breaker let through has to
// report back one way or the other, or the half-open state never resolves.
func isStoreFailure(err error) bool {
	return errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, store.ErrContention) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// storageKey hashes the identity together with the policy key so a policy
// change starts counting fresh and raw identities never appear in the store.
func storageKey(identity, policyKey string) string {
	sum := sha256.Sum256([]byte(identity + "\x1f" + policyKey))
	return hex.EncodeToString(sum[:16])
}

func effectiveLimit(p *policy.Policy) int64 {
	switch p.Algorithm {
	case policy.TokenBucket, policy.LeakyBucket:
		return int64(p.Capacity())
	default:
		return p.Limit
	}
}

func strategyFor(p *policy.Policy) algorithm.Strategy {
	switch p.Algorithm {
	case policy.FixedWindow:
		return algorithm.NewFixedWindow(p.Limit, p.Window)
	case policy.SlidingLog:
		return algorithm.NewSlidingLog(p.Limit, p.Window)
	case policy.TokenBucket:
		return algorithm.NewTokenBucket(p.Capacity(), p.RefillRate())
	case policy.LeakyBucket:
		return algorithm.NewLeakyBucket(p.Capacity(), p.RefillRate())
	default:
		return algorithm.NewSlidingCounter(p.Limit, p.Window)
	}
}
