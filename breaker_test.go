package quotaflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	b := NewBreaker(BreakerOptions{
		FailureThreshold: 3,
		Cooldown:         time.Second,
		Clock:            func() time.Time { return now },
	})

	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.OnFailure()
	b.OnFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.OnFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsTheFailureCount(t *testing.T) {
	b := NewBreaker(BreakerOptions{FailureThreshold: 3, Cooldown: time.Second})

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	assert.Equal(t, BreakerClosed, b.State())

	b.OnFailure()
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	b := NewBreaker(BreakerOptions{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Clock:            func() time.Time { return now },
	})

	b.OnFailure()
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Second)
	// only the first caller through gets to probe
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	t.Run("successful probe closes the circuit", func(t *testing.T) {
		b := NewBreaker(BreakerOptions{FailureThreshold: 1, Cooldown: time.Second, Clock: func() time.Time { return now }})
		b.OnFailure()
		now = now.Add(2 * time.Second)
		assert.True(t, b.Allow())

		b.OnSuccess()
		assert.Equal(t, BreakerClosed, b.State())
		assert.True(t, b.Allow())
	})

	t.Run("failed probe re-opens the circuit", func(t *testing.T) {
		b := NewBreaker(BreakerOptions{FailureThreshold: 1, Cooldown: time.Second, Clock: func() time.Time { return now }})
		b.OnFailure()
		now = now.Add(2 * time.Second)
		assert.True(t, b.Allow())

		b.OnFailure()
		assert.Equal(t, BreakerOpen, b.State())
		assert.False(t, b.Allow())
	})
}

func TestBreaker_StateChangeHook(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	type change struct{ from, to BreakerState }
	var changes []change

	b := NewBreaker(BreakerOptions{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Clock:            func() time.Time { return now },
		OnStateChange: func(from, to BreakerState) {
			changes = append(changes, change{from, to})
		},
	})

	b.OnFailure()
	now = now.Add(2 * time.Second)
	b.Allow()
	b.OnSuccess()

	assert.Equal(t, []change{
		{BreakerClosed, BreakerOpen},
		{BreakerOpen, BreakerHalfOpen},
		{BreakerHalfOpen, BreakerClosed},
	}, changes)
}
