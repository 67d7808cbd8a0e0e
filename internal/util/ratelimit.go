package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces out calls to an external API: a one-token bucket
// refilling at a fixed per-minute rate. The first call is admitted
// immediately.
type RateLimiter struct {
	mu     sync.Mutex
	perSec float64
	tokens float64
	last   time.Time
}

// NewRateLimiter allows perMinute calls per minute. Non-positive rates fall
// back to one call per second.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perSec: float64(perMinute) / 60.0,
		tokens: 1,
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled. Rather than
// polling, it sleeps for the exact refill time still owed.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.last).Seconds() * rl.perSec
		if rl.tokens > 1 {
			rl.tokens = 1
		}
		rl.last = now
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		owed := time.Duration((1 - rl.tokens) / rl.perSec * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(owed)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
