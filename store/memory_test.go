package store

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AtomicApply(t *testing.T) {
	ctx := context.Background()

	t.Run("creates state lazily and expires it", func(t *testing.T) {
		now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
		s := NewMemoryStore(WithClock(func() time.Time { return now }))

		state, err := s.AtomicApply(ctx, "some-key", increment(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), state)
		assert.Equal(t, 1, s.Len())

		now = now.Add(2 * time.Minute)
		state, err = s.AtomicApply(ctx, "some-key", increment(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), state)
	})

	t.Run("skips the write when the transform returns nil", func(t *testing.T) {
		s := NewMemoryStore()

		state, err := s.AtomicApply(ctx, "some-key", func(prev []byte) ([]byte, time.Duration, error) {
			return nil, 0, nil
		})
		require.NoError(t, err)
		assert.Nil(t, state)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("reports a canceled context as the store being unavailable", func(t *testing.T) {
		s := NewMemoryStore()

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.AtomicApply(canceled, "some-key", increment(time.Minute))
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, s.Ping(canceled), ErrUnavailable)
	})
}

func TestMemoryStore_AtomicApply_NoLostUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const (
		workers = 8
		rounds  = 100
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for x := 0; x < rounds; x++ {
				_, err := s.AtomicApply(ctx, "contended-key", increment(time.Minute))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	state, err := s.AtomicApply(ctx, "contended-key", func(prev []byte) ([]byte, time.Duration, error) {
		return nil, 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(strconv.Itoa(workers*rounds)), state)
}
