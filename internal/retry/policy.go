// Package retry provides exponential backoff with jitter for worker waits:
// polling an empty queue and retrying acknowledgements the store rejected.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff with jitter.
type Policy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRatio float64 // 0.0 to 1.0
}

// DefaultPolicy returns the backoff used by workers.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:  3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		JitterRatio: 0.1,
	}
}

// NextDelay computes the wait before the given attempt. Attempts 0 and 1
// wait BaseDelay; the result never exceeds MaxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// Apply jitter: ±JitterRatio of the delay.
	delay += delay * p.JitterRatio * (2*rand.Float64() - 1)

	switch {
	case delay < 0:
		delay = float64(p.BaseDelay)
	case delay > float64(p.MaxDelay):
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt should be made after attempt
// failed.
func (p *Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}
