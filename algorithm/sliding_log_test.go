package algorithm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingLog_Apply(t *testing.T) {
	base := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	t.Run("denies once the trailing window is full", func(t *testing.T) {
		strategy := NewSlidingLog(3, time.Minute)

		var state []byte
		for x := 0; x < 3; x++ {
			next, out, err := strategy.Apply(state, base.Add(time.Duration(x)*10*time.Second), 1)
			require.NoError(t, err)
			require.True(t, out.Allowed)
			state = next
		}

		now := base.Add(30 * time.Second)
		_, out, err := strategy.Apply(state, now, 1)
		require.NoError(t, err)
		assert.False(t, out.Allowed)
		assert.Equal(t, int64(0), out.Remaining)
		// free again once the oldest entry ages out of the window
		assert.Equal(t, 30*time.Second, out.RetryAfter)
	})

	t.Run("admits again after the oldest entry expires", func(t *testing.T) {
		strategy := NewSlidingLog(3, time.Minute)

		var state []byte
		for x := 0; x < 3; x++ {
			state, _, _ = strategy.Apply(state, base, 1)
		}

		_, out, err := strategy.Apply(state, base.Add(61*time.Second), 1)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
	})

	t.Run("weighted entries count their full cost", func(t *testing.T) {
		strategy := NewSlidingLog(10, time.Minute)

		state, out, err := strategy.Apply(nil, base, 7)
		require.NoError(t, err)
		require.True(t, out.Allowed)
		assert.Equal(t, int64(3), out.Remaining)

		// exactly filling the window is still admitted
		state, out, err = strategy.Apply(state, base, 3)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.Equal(t, int64(0), out.Remaining)

		_, out, err = strategy.Apply(state, base, 1)
		require.NoError(t, err)
		assert.False(t, out.Allowed)
	})

	t.Run("entries get distinct ids", func(t *testing.T) {
		strategy := NewSlidingLog(5, time.Minute)

		state, _, err := strategy.Apply(nil, base, 1)
		require.NoError(t, err)
		state, _, err = strategy.Apply(state, base, 1)
		require.NoError(t, err)

		var st slidingLogState
		require.NoError(t, json.Unmarshal(state, &st))
		require.Len(t, st.Entries, 2)
		assert.NotEmpty(t, st.Entries[0].ID)
		assert.NotEqual(t, st.Entries[0].ID, st.Entries[1].ID)
	})

	t.Run("peek reports without appending", func(t *testing.T) {
		strategy := NewSlidingLog(3, time.Minute)

		state, _, err := strategy.Apply(nil, base, 2)
		require.NoError(t, err)

		next, out, err := strategy.Apply(state, base, 0)
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.True(t, out.Allowed)
		assert.Equal(t, int64(1), out.Remaining)
	})
}
