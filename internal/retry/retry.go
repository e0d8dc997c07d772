// Package retry provides the bounded backoff policy used around calls to
// the recognition service. The policy is a plain value so callers can be
// tested with instant delays and scripted failures.
package retry

import (
	"context"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
// Attempts are numbered from zero; Delay(k) is waited after attempt k fails
// and before attempt k+1 starts. A nil Retryable treats every error as
// retryable.
type Policy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// DefaultPolicy matches the recognition call contract: three attempts with
// 2^k-second waits between them (1s, then 2s).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       ExponentialDelay(time.Second),
	}
}

// ExponentialDelay returns base<<attempt, doubling after every failure.
func ExponentialDelay(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << attempt
	}
}

// Do runs op until it succeeds, the attempt budget is exhausted, the error
// is not retryable, or the context ends. The last error is returned
// unchanged so callers can branch on the recognition failure taxonomy.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if sleepErr := sleep(ctx, p.delay(attempt-1)); sleepErr != nil {
				return err
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Delay == nil {
		return 0
	}
	return p.Delay(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
