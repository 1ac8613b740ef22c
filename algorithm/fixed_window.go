package algorithm

import (
	"encoding/json"
	"fmt"
	"time"
)

var _ Strategy = &fixedWindow{}

type fixedWindow struct {
	limit  int64
	window time.Duration
}

type fixedWindowState struct {
	WindowStart int64 `json:"ws"` // unix milliseconds
	Count       int64 `json:"n"`
}

// NewFixedWindow creates a fixed window strategy: requests are counted
// against non-overlapping windows aligned to the window size. Up to 2x the
// limit can pass across a window boundary; that is the accepted trade-off
// of this algorithm, not something the implementation smooths over.
func NewFixedWindow(limit int64, window time.Duration) Strategy {
	return &fixedWindow{limit: limit, window: window}
}

func (f *fixedWindow) Apply(state []byte, now time.Time, cost int64) ([]byte, Outcome, error) {
	if err := checkCost(cost); err != nil {
		return nil, Outcome{}, err
	}

	var st fixedWindowState
	if len(state) > 0 {
		// a state we cannot decode is discarded and the window restarts;
		// the key would have expired on its own anyway
		_ = json.Unmarshal(state, &st)
	}

	windowStart := now.Truncate(f.window)
	if st.WindowStart != windowStart.UnixMilli() {
		st.WindowStart = windowStart.UnixMilli()
		st.Count = 0
	}
	resetAt := windowStart.Add(f.window)

	if cost == 0 {
		return nil, Outcome{
			Allowed:   true,
			Remaining: clampRemaining(f.limit - st.Count),
			Limit:     f.limit,
			ResetAt:   resetAt,
		}, nil
	}

	allowed := st.Count+cost <= f.limit
	if allowed {
		st.Count += cost
	}

	out := Outcome{
		Allowed:   allowed,
		Remaining: clampRemaining(f.limit - st.Count),
		Limit:     f.limit,
		ResetAt:   resetAt,
	}
	if !allowed {
		out.RetryAfter = resetAt.Sub(now)
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to encode fixed window state: %w", err)
	}
	return next, out, nil
}

func (f *fixedWindow) IdleTTL() time.Duration {
	return f.window
}
