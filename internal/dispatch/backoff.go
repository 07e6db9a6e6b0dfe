package dispatch

import (
	"context"
	"time"
)

// Backoff is a capped exponential delay between retryable attempts
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns how long to wait after the given failed attempt (1-based).
// The result never exceeds Max, including the first attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = 10 * time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}

	if initial >= maximum {
		return maximum
	}

	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if delay >= float64(maximum) {
			return maximum
		}
	}
	return time.Duration(delay)
}

// sendAttempt is the retry state of one in-flight message
type sendAttempt struct {
	attempt      int
	nextEligible time.Time
}

// Clock lets tests control time
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock returns the wall clock
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
