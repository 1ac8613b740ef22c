package algorithm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Strategy = &slidingLog{}

type slidingLog struct {
	limit  int64
	window time.Duration
}

type slidingLogState struct {
	Entries []logEntry `json:"log"`
}

// every admitted request gets its own UUID so entries stay distinct even
// when two requests land on the same millisecond
type logEntry struct {
	ID   string `json:"id"`
	At   int64  `json:"at"` // unix milliseconds
	Cost int64  `json:"c"`
}

// NewSlidingLog creates a sliding window log strategy: an exact trailing
// window over a log of admitted requests. State grows with traffic, so it
// is meant for low and medium volume keys where exactness matters.
func NewSlidingLog(limit int64, window time.Duration) Strategy {
	return &slidingLog{limit: limit, window: window}
}

func (s *slidingLog) Apply(state []byte, now time.Time, cost int64) ([]byte, Outcome, error) {
	if err := checkCost(cost); err != nil {
		return nil, Outcome{}, err
	}

	var st slidingLogState
	if len(state) > 0 {
		_ = json.Unmarshal(state, &st)
	}

	// drop everything that aged out of the trailing window
	cutoff := now.Add(-s.window).UnixMilli()
	kept := st.Entries[:0]
	var used int64
	for _, entry := range st.Entries {
		if entry.At > cutoff {
			kept = append(kept, entry)
			used += entry.Cost
		}
	}
	st.Entries = kept

	resetAt := now
	if len(st.Entries) > 0 {
		resetAt = time.UnixMilli(st.Entries[0].At).Add(s.window)
	}

	if cost == 0 {
		return nil, Outcome{
			Allowed:   true,
			Remaining: clampRemaining(s.limit - used),
			Limit:     s.limit,
			ResetAt:   resetAt,
		}, nil
	}

	allowed := used+cost <= s.limit
	if allowed {
		st.Entries = append(st.Entries, logEntry{
			ID:   uuid.New().String(),
			At:   now.UnixMilli(),
			Cost: cost,
		})
		used += cost
		if resetAt.Equal(now) {
			resetAt = now.Add(s.window)
		}
	}

	out := Outcome{
		Allowed:   allowed,
		Remaining: clampRemaining(s.limit - used),
		Limit:     s.limit,
		ResetAt:   resetAt,
	}
	if !allowed {
		out.RetryAfter = s.retryAfter(&st, now, used, cost)
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to encode sliding log state: %w", err)
	}
	return next, out, nil
}

// retryAfter walks the log oldest-first until enough weight has aged out
// for the denied cost to fit, and reports when that happens.
func (s *slidingLog) retryAfter(st *slidingLogState, now time.Time, used, cost int64) time.Duration {
	freed := int64(0)
	for _, entry := range st.Entries {
		freed += entry.Cost
		if used-freed+cost <= s.limit {
			return time.UnixMilli(entry.At).Add(s.window).Sub(now)
		}
	}
	// cost exceeds the limit outright; an empty window is the best hint we have
	if len(st.Entries) > 0 {
		return time.UnixMilli(st.Entries[len(st.Entries)-1].At).Add(s.window).Sub(now)
	}
	return s.window
}

func (s *slidingLog) IdleTTL() time.Duration {
	return s.window
}
