package quotaflow

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quotaflow/quotaflow/policy"
)

const (
	fallbackIdleTTL    = 15 * time.Minute
	fallbackSweepEvery = 2 * time.Minute
)

// localFallback is the degraded-mode approximation used when a policy runs
// with fallback mode "local": one process-local token bucket per key,
// sized from the policy's rate and capacity. It cannot see other
// instances, so it limits damage rather than doing exact accounting.
// Idle keys are swept opportunistically on access.
type localFallback struct {
	mu        sync.Mutex
	entries   map[string]*fallbackEntry
	lastSweep time.Time
}

type fallbackEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalFallback() *localFallback {
	return &localFallback{entries: make(map[string]*fallbackEntry)}
}

// allow consumes cost from the local bucket for the key, reporting the
// decision, the (approximate) remaining budget and a retry hint on denial.
func (l *localFallback) allow(key string, p *policy.Policy, cost int64, now time.Time) (bool, int64, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= fallbackSweepEvery {
		l.sweep(now)
	}

	entry, ok := l.entries[key]
	if !ok {
		burst := int(p.Capacity())
		if burst < 1 {
			burst = 1
		}
		entry = &fallbackEntry{lim: rate.NewLimiter(rate.Limit(p.RefillRate()), burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	if cost == 0 {
		return true, int64(entry.lim.TokensAt(now)), 0
	}

	if entry.lim.AllowN(now, int(cost)) {
		return true, int64(entry.lim.TokensAt(now)), 0
	}

	// reserve-then-cancel yields the wait time without consuming anything
	res := entry.lim.ReserveN(now, int(cost))
	var retryAfter time.Duration
	if res.OK() {
		retryAfter = res.DelayFrom(now)
		res.CancelAt(now)
	}
	return false, int64(entry.lim.TokensAt(now)), retryAfter
}

func (l *localFallback) sweep(now time.Time) {
	cutoff := now.Add(-fallbackIdleTTL)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
	l.lastSweep = now
}
