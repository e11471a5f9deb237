package fault

import (
	"context"
	"time"
)

// backoff paces polling loops. The first call to Backoff returns
// immediately, each following call waits twice as long as the one
// before it, capped at max.
type backoff struct {
	timer *time.Timer
	d     time.Duration
	min   time.Duration
	max   time.Duration
}

func newBackoff() *backoff {
	return newBackoffRange(125*time.Millisecond, 8*time.Second)
}

func newBackoffRange(min, max time.Duration) *backoff {
	return &backoff{timer: time.NewTimer(0), min: min, max: max}
}

// Backoff waits for the next attempt, or returns the context's error.
func (b *backoff) Backoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.timer.C:
		b.next()
		b.timer.Reset(b.d)
		return nil
	}
}

func (b *backoff) next() {
	switch {
	case b.d == 0:
		b.d = b.min
	case b.d*2 >= b.max:
		b.d = b.max
	default:
		b.d *= 2
	}
}

func (b *backoff) Stop() {
	b.timer.Stop()
}
