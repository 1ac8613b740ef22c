package algorithm

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

var _ Strategy = &slidingCounter{}

type slidingCounter struct {
	limit  int64
	window time.Duration
}

type slidingCounterState struct {
	PrevCount int64 `json:"pn"`
	CurrStart int64 `json:"cs"` // unix milliseconds
	CurrCount int64 `json:"cn"`
}

// NewSlidingCounter creates a sliding window counter strategy: the count of
// the previous window is weighted by how much of it still overlaps the
// trailing window and added to the current count. O(1) state and smoothed
// window boundaries make this the recommended default.
func NewSlidingCounter(limit int64, window time.Duration) Strategy {
	return &slidingCounter{limit: limit, window: window}
}

func (s *slidingCounter) Apply(state []byte, now time.Time, cost int64) ([]byte, Outcome, error) {
	if err := checkCost(cost); err != nil {
		return nil, Outcome{}, err
	}

	var st slidingCounterState
	if len(state) > 0 {
		_ = json.Unmarshal(state, &st)
	}
	if st.CurrStart == 0 {
		st.CurrStart = now.Truncate(s.window).UnixMilli()
	}

	// roll forward in whole windows so consecutive windows stay adjacent;
	// a gap of two or more windows leaves nothing to weight
	currStart := time.UnixMilli(st.CurrStart)
	if elapsed := now.Sub(currStart); elapsed >= s.window {
		missed := int64(elapsed / s.window)
		if missed == 1 {
			st.PrevCount = st.CurrCount
		} else {
			st.PrevCount = 0
		}
		st.CurrCount = 0
		currStart = currStart.Add(time.Duration(missed) * s.window)
		st.CurrStart = currStart.UnixMilli()
	}

	inWindow := now.Sub(currStart)
	weight := float64(s.window-inWindow) / float64(s.window)
	effective := float64(st.PrevCount)*weight + float64(st.CurrCount)
	resetAt := currStart.Add(s.window)

	if cost == 0 {
		return nil, Outcome{
			Allowed:   true,
			Remaining: s.remaining(effective),
			Limit:     s.limit,
			ResetAt:   resetAt,
		}, nil
	}

	allowed := effective+float64(cost) <= float64(s.limit)
	if allowed {
		st.CurrCount += cost
		effective += float64(cost)
	}

	out := Outcome{
		Allowed:   allowed,
		Remaining: s.remaining(effective),
		Limit:     s.limit,
		ResetAt:   resetAt,
	}
	if !allowed {
		out.RetryAfter = s.retryAfter(&st, now, inWindow, effective, cost)
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to encode sliding counter state: %w", err)
	}
	return next, out, nil
}

func (s *slidingCounter) remaining(effective float64) int64 {
	return clampRemaining(s.limit - int64(math.Ceil(effective)))
}

// retryAfter estimates when the weighted count will have decayed enough for
// the denied cost to fit. The previous window's contribution shrinks
// linearly, so the estimate is exact while that is the only moving part.
func (s *slidingCounter) retryAfter(st *slidingCounterState, now time.Time, inWindow time.Duration, effective float64, cost int64) time.Duration {
	target := float64(s.limit - cost)
	if st.PrevCount > 0 && effective > target {
		wait := time.Duration((effective - target) / float64(st.PrevCount) * float64(s.window))
		if wait <= s.window-inWindow {
			return wait
		}
	}
	// everything sits in the current window; nothing frees up before it rolls
	return s.window - inWindow
}

func (s *slidingCounter) IdleTTL() time.Duration {
	return 2 * s.window
}
