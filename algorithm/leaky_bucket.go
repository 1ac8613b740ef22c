package algorithm

import (
	"encoding/json"
	"fmt"
	"time"
)

var _ Strategy = &leakyBucket{}

type leakyBucket struct {
	capacity float64
	rate     float64 // units drained per second
}

type leakyBucketState struct {
	Level    float64 `json:"lvl"`
	LastLeak int64   `json:"ll"` // unix milliseconds
}

// NewLeakyBucket creates a leaky bucket strategy: admitted work raises the
// queue level, which drains at a constant rate. Use it when the goal is a
// smooth downstream rate rather than burst tolerance.
func NewLeakyBucket(capacity, rate float64) Strategy {
	return &leakyBucket{capacity: capacity, rate: rate}
}

func (l *leakyBucket) Apply(state []byte, now time.Time, cost int64) ([]byte, Outcome, error) {
	if err := checkCost(cost); err != nil {
		return nil, Outcome{}, err
	}

	st := leakyBucketState{LastLeak: now.UnixMilli()}
	if len(state) > 0 {
		_ = json.Unmarshal(state, &st)
	}

	if elapsed := now.Sub(time.UnixMilli(st.LastLeak)); elapsed > 0 {
		st.Level -= elapsed.Seconds() * l.rate
		if st.Level < 0 {
			st.Level = 0
		}
	}
	st.LastLeak = now.UnixMilli()

	if cost == 0 {
		return nil, Outcome{
			Allowed:   true,
			Remaining: int64(l.capacity - st.Level + tokenEpsilon),
			Limit:     int64(l.capacity),
			ResetAt:   l.drainedAt(now, st.Level),
		}, nil
	}

	allowed := st.Level+float64(cost) <= l.capacity+tokenEpsilon
	if allowed {
		st.Level += float64(cost)
		if st.Level > l.capacity {
			st.Level = l.capacity
		}
	}

	out := Outcome{
		Allowed:   allowed,
		Remaining: int64(l.capacity - st.Level + tokenEpsilon),
		Limit:     int64(l.capacity),
		ResetAt:   l.drainedAt(now, st.Level),
	}
	if !allowed {
		overflow := st.Level + float64(cost) - l.capacity
		out.RetryAfter = time.Duration(overflow / l.rate * float64(time.Second))
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to encode leaky bucket state: %w", err)
	}
	return next, out, nil
}

// drainedAt is when the queue level reaches zero without further arrivals.
func (l *leakyBucket) drainedAt(now time.Time, level float64) time.Time {
	if level <= 0 {
		return now
	}
	return now.Add(time.Duration(level / l.rate * float64(time.Second)))
}

func (l *leakyBucket) IdleTTL() time.Duration {
	ttl := time.Duration(l.capacity / l.rate * float64(time.Second))
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
