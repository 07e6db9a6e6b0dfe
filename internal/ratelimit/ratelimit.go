// Package ratelimit bounds the process-wide rate of outbound provider calls.
//
// One Limiter is created at startup and handed by reference to every
// dispatch worker, so the bound applies across all running campaigns.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter is a continuously refilling token bucket. It is safe for
// concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing perSecond calls per second with bursts of up to burst.
func New(perSecond float64, burst int) (*Limiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %v", perSecond)
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be at least 1, got %d", burst)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}, nil
}

// Acquire blocks until a token is available. It only gives up when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait also refuses when the deadline is shorter than the expected
		// delay; report that as the context running out.
		return context.DeadlineExceeded
	}
	return nil
}

// Rate returns the configured steady-state rate
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

// Burst returns the bucket capacity
func (l *Limiter) Burst() int {
	return l.limiter.Burst()
}
