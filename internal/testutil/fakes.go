package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wabroadcast/internal/provider"
)

// FakeCall records one Send
type FakeCall struct {
	To   string
	Body string
}

// FakeProvider is a scriptable provider.Provider
type FakeProvider struct {
	mu    sync.Mutex
	calls []FakeCall

	// SendFunc, when set, decides the outcome of the n-th call (1-based).
	SendFunc func(n int, to, body string) (*provider.SendResult, error)
	// VerifyFunc, when set, handles VerifyCallback.
	VerifyFunc func(raw []byte, headers http.Header) ([]provider.StatusEvent, error)
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Send(_ context.Context, to, body string) (*provider.SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{To: to, Body: body})
	n := len(f.calls)
	fn := f.SendFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(n, to, body)
	}
	return &provider.SendResult{ProviderMessageID: fmt.Sprintf("fake-%d", n), AcceptedAt: time.Now().UTC()}, nil
}

func (f *FakeProvider) VerifyCallback(_ context.Context, raw []byte, headers http.Header) ([]provider.StatusEvent, error) {
	if f.VerifyFunc == nil {
		return nil, provider.ErrInvalidSignature
	}
	return f.VerifyFunc(raw, headers)
}

// Calls returns a copy of every recorded Send
func (f *FakeProvider) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallCount returns how many times Send was called
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// FakeClock is a manually driven clock. Sleep advances time instantly.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock creates a clock frozen at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Sleeps returns every duration passed to Sleep
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// CountingLimiter admits everything and counts acquisitions
type CountingLimiter struct {
	mu    sync.Mutex
	count int
}

func (l *CountingLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
	return nil
}

// Count returns the number of successful Acquire calls
func (l *CountingLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
