// Package retry runs an operation under a bounded, linear-backoff retry policy.
package retry

import (
	"context"
	"time"

	"pulsechain-portfolio-api/internal/models"
)

// Policy describes how an operation is retried
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Backoff returns the delay before attempt+1; attempt starts at 1.
	Backoff func(attempt int, base time.Duration) time.Duration
	// Retryable decides whether an error warrants another attempt.
	Retryable func(error) bool
	// OnRetry is called before sleeping, useful for logging.
	OnRetry func(attempt int, delay time.Duration, err error)
	sleep   func(ctx context.Context, d time.Duration) error
}

// LinearBackoff waits attempt * base
func LinearBackoff(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}

// DefaultPolicy retries transient provider errors three times with linear backoff
func DefaultPolicy(base time.Duration) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   base,
		Backoff:     LinearBackoff,
		Retryable:   models.IsRetryable,
	}
}

// WithSleep replaces the sleep function, used by tests
func (p Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, returns a non-retryable error or the
// attempts run out. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = LinearBackoff
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = models.IsRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			return err
		}

		delay := backoff(attempt, p.BaseDelay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}

// Value is Do for operations that produce a result
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
