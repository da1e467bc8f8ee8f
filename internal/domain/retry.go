package domain

import (
	"math"
	"time"
)

// RetryPolicy shapes the backoff applied to transient LLM provider failures.
// The sleep for attempt n (1-based) is Base doubled per attempt plus up to
// 250ms of jitter, never exceeding Cap.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first call.
	MaxRetries int
	// Base is the first-retry sleep before jitter.
	Base time.Duration
	// Cap bounds any single sleep.
	Cap time.Duration
}

// DefaultRetryPolicy returns the provider client defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		Base:       700 * time.Millisecond,
		Cap:        15 * time.Second,
	}
}

// retryJitterMax is the widest jitter added to one backoff sleep.
const retryJitterMax = 250 * time.Millisecond

var retryableStatuses = map[int]struct{}{
	408: {}, 409: {}, 425: {}, 429: {},
	500: {}, 502: {}, 503: {}, 504: {},
}

// RetryableStatus reports whether an HTTP status is transient enough to
// warrant another attempt. 402 is deliberately absent: it means the
// provider account is out of credits and no retry can fix that.
func RetryableStatus(code int) bool {
	_, ok := retryableStatuses[code]
	return ok
}

// Delay returns the sleep before the given 1-based retry attempt. unitRand
// must be uniform in [0,1); it scales the jitter so the function stays pure
// and testable.
func (p RetryPolicy) Delay(attempt int, unitRand float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.Base) * math.Pow(2, float64(attempt-1))
	d := time.Duration(backoff + unitRand*float64(retryJitterMax))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}
