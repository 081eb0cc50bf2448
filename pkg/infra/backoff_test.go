package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_FollowsExponentialDelayWithJitter(t *testing.T) {
	base, ceiling := 100*time.Millisecond, time.Second
	b := NewBackoff(base, ceiling)

	for attempt := 1; attempt <= 10; attempt++ {
		want := ExponentialDelay(base, ceiling, attempt)
		wait := b.Next()
		assert.GreaterOrEqual(t, wait, base)
		assert.GreaterOrEqual(t, wait, want*8/10, "attempt %d", attempt)
		assert.LessOrEqual(t, wait, want*12/10, "attempt %d", attempt)
	}
	assert.Equal(t, 10, b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.LessOrEqual(t, b.Next(), 120*time.Millisecond)
	assert.Equal(t, 1, b.Attempts())
}

func TestNewReconnectBackoff_CapsAtOneMinute(t *testing.T) {
	b := NewReconnectBackoff()

	first := b.Next()
	assert.GreaterOrEqual(t, first, time.Second)
	assert.LessOrEqual(t, first, 1200*time.Millisecond)

	for range 20 {
		assert.LessOrEqual(t, b.Next(), 72*time.Second)
	}
}

func TestExponentialDelay(t *testing.T) {
	base, ceiling := time.Second, 30*time.Second

	assert.Equal(t, time.Second, ExponentialDelay(base, ceiling, 0))
	assert.Equal(t, time.Second, ExponentialDelay(base, ceiling, 1))
	assert.Equal(t, 2*time.Second, ExponentialDelay(base, ceiling, 2))
	assert.Equal(t, 16*time.Second, ExponentialDelay(base, ceiling, 5))
	assert.Equal(t, ceiling, ExponentialDelay(base, ceiling, 6))
	assert.Equal(t, ceiling, ExponentialDelay(base, ceiling, 500))
	assert.Equal(t, time.Duration(0), ExponentialDelay(0, ceiling, 3))
}
