// Package retry provides the bounded exponential backoff policy shared by
// every call that crosses a process boundary: catalog client fetches and
// SQLite writes that hit a busy database.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snowline/internal/services"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The zero value retries transient failures three
// times with 2s/4s delays.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AttemptTimeout bounds a single attempt. Zero leaves the caller's
	// deadline in charge.
	AttemptTimeout time.Duration
	// Retryable classifies failures. Defaults to services.IsRetryable.
	Retryable func(error) bool
	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(context.Context, time.Duration) error
	// OnRetry observes every failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ExhaustedError reports that every attempt failed with a retryable error.
// Err is the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err came from a policy that ran out of attempts.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made. The
// attempt argument passed to op is zero-based.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = p.run(ctx, attempt, op)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if !p.Retryable(lastErr) {
			return attempt + 1, lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return attempt + 1, err
		}
	}
	return p.MaxAttempts, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

func (p Policy) run(ctx context.Context, attempt int, op func(context.Context, int) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	err := op(attemptCtx, attempt)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, "", "attempt", fmt.Sprintf("exceeded %s", p.AttemptTimeout), err)
	}
	return err
}

// Delay returns the wait after the given zero-based attempt: BaseDelay doubled
// per attempt and capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = services.IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoSleep skips backoff waits entirely.
func NoSleep(context.Context, time.Duration) error { return nil }
