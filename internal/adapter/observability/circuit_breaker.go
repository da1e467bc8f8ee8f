package observability

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the admission state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed admits every call.
	BreakerClosed BreakerState = iota
	// BreakerOpen sheds every call until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen admits probe calls after a cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker sheds calls to a provider that keeps failing, so a burst of
// concurrent rows does not burn its whole retry budget against a dead
// upstream. maxFailures consecutive failures open it; once the cooldown
// elapses probe calls flow again, and successesToClose consecutive successes
// close it. Any failure while half-open reopens it immediately.
type CircuitBreaker struct {
	name             string
	maxFailures      int
	cooldown         time.Duration
	successesToClose int

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker builds a closed breaker. name labels log lines only.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		cooldown:         cooldown,
		successesToClose: 2,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker past its
// cooldown flips to half-open and admits the call as a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) < cb.cooldown {
		return false
	}
	cb.state = BreakerHalfOpen
	cb.failures = 0
	cb.successes = 0
	slog.Info("circuit breaker half-open",
		slog.String("breaker", cb.name),
		slog.Duration("cooldown", cb.cooldown))
	return true
}

// RecordSuccess notes a healthy provider response.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successesToClose {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
			slog.Info("circuit breaker closed", slog.String("breaker", cb.name))
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// RecordFailure notes a provider-health failure (transport error or a
// transient status). Client-fault responses should not be recorded here.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.open()
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.open()
		}
	}
}

// State returns the current admission state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) open() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.successes = 0
	slog.Warn("circuit breaker opened",
		slog.String("breaker", cb.name),
		slog.Int("failures", cb.failures),
		slog.Duration("cooldown", cb.cooldown))
}
