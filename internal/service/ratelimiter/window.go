package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter admits at most qps call starts inside any sliding window.
// It keeps a ring buffer of the last qps admission timestamps; when the ring
// is full the caller sleeps until the oldest entry leaves the window. The
// mutex is never held across a sleep.
type WindowLimiter struct {
	mu     sync.Mutex
	events []time.Time
	next   int
	size   int
	window time.Duration

	now func() time.Time
}

// NewWindowLimiter builds a limiter admitting qps starts per one-second window.
func NewWindowLimiter(qps int) *WindowLimiter {
	return NewWindowLimiterWithPeriod(qps, time.Second)
}

// NewWindowLimiterWithPeriod builds a limiter admitting qps starts per window.
func NewWindowLimiterWithPeriod(qps int, window time.Duration) *WindowLimiter {
	if qps <= 0 {
		qps = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &WindowLimiter{
		events: make([]time.Time, qps),
		window: window,
		now:    time.Now,
	}
}

// Wait blocks until an admission slot is free or ctx is done.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.size < len(l.events) {
			l.events[l.next] = now
			l.next = (l.next + 1) % len(l.events)
			l.size++
			l.mu.Unlock()
			return nil
		}
		// Ring is full; l.next points at the oldest recorded start.
		oldest := l.events[l.next]
		wait := l.window - now.Sub(oldest)
		if wait <= 0 {
			l.events[l.next] = now
			l.next = (l.next + 1) % len(l.events)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
