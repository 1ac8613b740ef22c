package policy

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultCacheTTL = 5 * time.Second

// Resolver answers "which policy applies to this identity" with a short
// per-identity cache in front of the configuration snapshot. The cache is
// advisory and per instance; admission decisions never depend on it being
// fresh, only on the snapshot it was filled from.
type Resolver struct {
	snap     atomic.Value // *Config
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	policy    *Policy
	expiresAt time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL sets how long a resolved policy is cached per identity.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.cacheTTL = ttl }
}

// WithResolverClock overrides the resolver's time source.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver over a validated configuration.
func NewResolver(cfg *Config, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedPolicy),
	}
	r.snap.Store(cfg)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the policy snapshot for an identity.
func (r *Resolver) Resolve(identity string) (*Policy, error) {
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.cache[identity]; ok && entry.expiresAt.After(now) {
		r.mu.Unlock()
		return entry.policy, nil
	}
	r.mu.Unlock()

	p, err := r.config().Lookup(identity)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[identity] = cachedPolicy{policy: p, expiresAt: now.Add(r.cacheTTL)}
	r.mu.Unlock()

	return p, nil
}

// Reload swaps in a new configuration and drops the resolved cache
// wholesale; there is no partial invalidation.
func (r *Resolver) Reload(cfg *Config) {
	r.snap.Store(cfg)
	r.mu.Lock()
	r.cache = make(map[string]cachedPolicy)
	r.mu.Unlock()
}

func (r *Resolver) config() *Config {
	return r.snap.Load().(*Config)
}
