package itchio

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Statuses that warrant another attempt. Everything else, including 404
// and 403, is returned to the caller as-is.
var retryableStatuses = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// retryPolicy implements jittered exponential backoff for transient
// transport failures and retryable HTTP statuses.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func newRetryPolicy() *retryPolicy {
	return &retryPolicy{
		maxAttempts: 5,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    15 * time.Second,
	}
}

// shouldRetryError decides whether a transport error is retryable.
func (p *retryPolicy) shouldRetryError(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Anything else out of the transport (refused connections, resets,
	// timeouts) counts as a network error and gets another attempt.
	return true
}

// shouldRetryStatus decides whether an HTTP status warrants another attempt.
func (p *retryPolicy) shouldRetryStatus(status, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	_, ok := retryableStatuses[status]
	return ok
}

// backoff returns the wait duration before the next attempt.
func (p *retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *retryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
