package infra

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff is the in-memory counterpart of ExponentialDelay for broker
// reconnect loops: the same doubling schedule with ±20% jitter on top
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	ceiling  time.Duration
	attempts int
}

func NewBackoff(base, ceiling time.Duration) *Backoff {
	return &Backoff{base: base, ceiling: ceiling}
}

// NewReconnectBackoff waits 1s after the first failed dial, doubling up to a minute
func NewReconnectBackoff() *Backoff {
	return NewBackoff(time.Second, time.Minute)
}

// Next counts a failed attempt and returns how long to wait before the next one
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	delay := ExponentialDelay(b.base, b.ceiling, b.attempts)
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(delay))
	return max(delay+jitter, b.base)
}

// Reset is called once a connection is established
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// ExponentialDelay returns base * 2^(attempts-1) capped at maxDelay.
// It is deterministic so a record's next attempt can be persisted.
func ExponentialDelay(base, maxDelay time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return min(delay, maxDelay)
}
