package algorithm

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

var _ Strategy = &tokenBucket{}

// small slack when comparing token balances so refill arithmetic done in
// floats cannot starve a caller of the last token
const tokenEpsilon = 1e-9

type tokenBucket struct {
	capacity float64
	rate     float64 // tokens per second
}

type tokenBucketState struct {
	Tokens     float64 `json:"tok"`
	LastRefill int64   `json:"lr"` // unix milliseconds
}

// NewTokenBucket creates a token bucket strategy: the bucket starts full,
// refills continuously at rate tokens per second and holds at most capacity.
// Bursts that drain up to the full capacity at once are the point of this
// algorithm, not an anomaly.
func NewTokenBucket(capacity, rate float64) Strategy {
	return &tokenBucket{capacity: capacity, rate: rate}
}

func (t *tokenBucket) Apply(state []byte, now time.Time, cost int64) ([]byte, Outcome, error) {
	if err := checkCost(cost); err != nil {
		return nil, Outcome{}, err
	}

	st := tokenBucketState{Tokens: t.capacity, LastRefill: now.UnixMilli()}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			st = tokenBucketState{Tokens: t.capacity, LastRefill: now.UnixMilli()}
		}
	}

	if elapsed := now.Sub(time.UnixMilli(st.LastRefill)); elapsed > 0 {
		st.Tokens = math.Min(t.capacity, st.Tokens+elapsed.Seconds()*t.rate)
	}
	st.LastRefill = now.UnixMilli()

	if cost == 0 {
		return nil, Outcome{
			Allowed:   true,
			Remaining: int64(st.Tokens + tokenEpsilon),
			Limit:     int64(t.capacity),
			ResetAt:   t.fullAt(now, st.Tokens),
		}, nil
	}

	allowed := st.Tokens+tokenEpsilon >= float64(cost)
	if allowed {
		st.Tokens -= float64(cost)
		if st.Tokens < 0 {
			st.Tokens = 0
		}
	}

	out := Outcome{
		Allowed:   allowed,
		Remaining: int64(st.Tokens + tokenEpsilon),
		Limit:     int64(t.capacity),
		ResetAt:   t.fullAt(now, st.Tokens),
	}
	if !allowed {
		out.RetryAfter = time.Duration((float64(cost) - st.Tokens) / t.rate * float64(time.Second))
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to encode token bucket state: %w", err)
	}
	return next, out, nil
}

// fullAt is when the bucket is back at capacity given the current balance.
func (t *tokenBucket) fullAt(now time.Time, tokens float64) time.Time {
	missing := t.capacity - tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / t.rate * float64(time.Second)))
}

func (t *tokenBucket) IdleTTL() time.Duration {
	ttl := time.Duration(t.capacity / t.rate * float64(time.Second))
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
