// Package retry provides an explicit retry policy that call sites wrap their
// operations in, backed by cenkalti/backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff returns the wait before the given retry (1-based).
	// A nil Backoff retries immediately.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err should be retried.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry, when set, is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

// Constant waits d between every attempt.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential doubles initial on every attempt and clamps the result to max.
func Exponential(initial, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// funcBackOff adapts a Policy.Backoff function to backoff.BackOff.
type funcBackOff struct {
	fn      func(int) time.Duration
	attempt int
}

func (b *funcBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.fn == nil {
		return 0
	}
	return b.fn(b.attempt)
}

func (b *funcBackOff) Reset() { b.attempt = 0 }

// Do calls op until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&funcBackOff{fn: p.Backoff}, uint64(attempts-1)),
		ctx,
	)

	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}

	return backoff.RetryNotify(operation, b, notify)
}
