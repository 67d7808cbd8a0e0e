package util

import (
	"context"
	"math/rand"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// Backoff produces exponentially growing delays with a hard cap and up to
// 25% random jitter. Used for stream reconnects, where retries are spread
// over a session rather than wrapped around a single call.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	next time.Duration
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Base
	}
	d := b.next

	b.next *= 2
	if b.next > b.Cap {
		b.next = b.Cap
	}

	// Jitter in [0, d/4) so simultaneous clients do not reconnect in
	// lockstep.
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	if d > b.Cap {
		d = b.Cap
	}
	return d
}

// Reset restarts the sequence from the base delay. Called after a healthy
// session so a later failure starts cheap again.
func (b *Backoff) Reset() {
	b.next = 0
}
