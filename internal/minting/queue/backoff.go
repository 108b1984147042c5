package queue

import (
	"math"
	"time"
)

// Backoff returns the wait before retry number retryCount:
// min(base * multiplier^retryCount, max), jittered by ±Jitter, capped at
// MaxDelay and never below one second.
func (q *Queue) Backoff(retryCount int) time.Duration {
	c := q.cfg

	delay := float64(c.BaseDelay) * math.Pow(c.BackoffMultiplier, float64(retryCount))
	delay = math.Min(delay, float64(c.MaxDelay))

	// rand in [0,1) maps to a factor in [1-jitter, 1+jitter)
	delay *= 1 + c.Jitter*(2*q.rand()-1)

	d := time.Duration(delay)
	d = min(d, c.MaxDelay)
	return max(d, minDelay)
}
