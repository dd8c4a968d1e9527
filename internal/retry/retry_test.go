package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowline/internal/retry"
	"snowline/internal/services"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := retry.Policy{BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(2))
	assert.Equal(t, 10*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(60))
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	var delays []time.Duration
	p := retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute, Sleep: recordingSleep(&delays)}

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return services.Wrap(services.ErrTransient, "provider", "fetch", "503", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var delays []time.Duration
	p := retry.Policy{MaxAttempts: 5, Sleep: recordingSleep(&delays)}

	permanent := services.Wrap(services.ErrPermanent, "provider", "fetch", "401", nil)
	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return permanent })
	require.ErrorIs(t, err, services.ErrPermanent)
	assert.False(t, retry.IsExhausted(err))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
}

func TestDoExhaustsAndKeepsLastError(t *testing.T) {
	p := retry.Policy{MaxAttempts: 3, Sleep: retry.NoSleep}

	var seen []int
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		return services.Wrap(services.ErrTransient, "provider", "fetch", "attempt failed", errors.New("boom"))
	})
	require.Error(t, err)
	assert.True(t, retry.IsExhausted(err))
	assert.ErrorIs(t, err, services.ErrTransient)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	p := retry.Policy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond, Sleep: retry.NoSleep}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, services.ErrTimeout)
}

func TestDoCustomClassifier(t *testing.T) {
	busy := errors.New("database is locked")
	p := retry.Policy{
		MaxAttempts: 3,
		Sleep:       retry.NoSleep,
		Retryable:   func(err error) bool { return errors.Is(err, busy) },
	}
	var retried []int
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	calls := 0
	_, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls == 1 {
			return busy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, retried)
}
