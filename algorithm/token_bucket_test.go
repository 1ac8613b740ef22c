package algorithm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Apply(t *testing.T) {
	base := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	t.Run("admits a burst up to capacity then denies", func(t *testing.T) {
		strategy := NewTokenBucket(10, 1)

		var state []byte
		for x := 0; x < 10; x++ {
			next, out, err := strategy.Apply(state, base, 1)
			require.NoError(t, err)
			require.True(t, out.Allowed, "call %d should be admitted", x+1)
			assert.Equal(t, int64(9-x), out.Remaining)
			state = next
		}

		_, out, err := strategy.Apply(state, base, 1)
		require.NoError(t, err)
		assert.False(t, out.Allowed)
		assert.Equal(t, int64(0), out.Remaining)
		assert.Equal(t, time.Second, out.RetryAfter)
	})

	t.Run("refills exactly one token per second", func(t *testing.T) {
		strategy := NewTokenBucket(10, 1)

		var state []byte
		for x := 0; x < 10; x++ {
			state, _, _ = strategy.Apply(state, base, 1)
		}

		later := base.Add(time.Second)
		state, out, err := strategy.Apply(state, later, 1)
		require.NoError(t, err)
		assert.True(t, out.Allowed)

		_, out, err = strategy.Apply(state, later, 1)
		require.NoError(t, err)
		assert.False(t, out.Allowed)
	})

	t.Run("never refills beyond capacity", func(t *testing.T) {
		strategy := NewTokenBucket(10, 1)

		state, _, err := strategy.Apply(nil, base, 1)
		require.NoError(t, err)

		_, out, err := strategy.Apply(state, base.Add(time.Hour), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(10), out.Remaining)
	})

	t.Run("admits a cost equal to the whole balance", func(t *testing.T) {
		strategy := NewTokenBucket(10, 1)

		state, out, err := strategy.Apply(nil, base, 10)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.Equal(t, int64(0), out.Remaining)

		_, out, err = strategy.Apply(state, base, 1)
		require.NoError(t, err)
		assert.False(t, out.Allowed)
	})

	t.Run("peek does not consume tokens", func(t *testing.T) {
		strategy := NewTokenBucket(10, 1)

		state, _, err := strategy.Apply(nil, base, 4)
		require.NoError(t, err)

		next, out, err := strategy.Apply(state, base, 0)
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.True(t, out.Allowed)
		assert.Equal(t, int64(6), out.Remaining)

		next, out, err = strategy.Apply(state, base, 0)
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.Equal(t, int64(6), out.Remaining)
	})

	t.Run("retry hint shrinks as the bucket refills", func(t *testing.T) {
		strategy := NewTokenBucket(2, 2)

		state, _, err := strategy.Apply(nil, base, 2)
		require.NoError(t, err)

		_, out, err := strategy.Apply(state, base, 1)
		require.NoError(t, err)
		require.False(t, out.Allowed)
		assert.Equal(t, 500*time.Millisecond, out.RetryAfter)

		_, out, err = strategy.Apply(state, base.Add(250*time.Millisecond), 1)
		require.NoError(t, err)
		require.False(t, out.Allowed)
		assert.Equal(t, 250*time.Millisecond, out.RetryAfter)
	})
}
