package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Immediate(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	cause := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), Immediate(3), func(context.Context) error {
		calls++
		return cause
	})
	require.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, cause)
}

func TestDoValueReturnsResult(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := DoValue(context.Background(), Immediate(2), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first fails")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Immediate(5), func(context.Context) error {
		calls++
		return context.Canceled
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryableClassifier(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	p := Policy{MaxAttempts: 3, Retryable: func(err error) bool { return !errors.Is(err, permanent) }}
	require.False(t, p.ShouldRetry(permanent, 1))
	require.True(t, p.ShouldRetry(errors.New("transient"), 1))
	require.False(t, p.ShouldRetry(errors.New("transient"), 3))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	require.Zero(t, Immediate(3).Backoff(2))

	p := Exponential(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestDoWaitsBetweenAttempts(t *testing.T) {
	t.Parallel()

	start := time.Now()
	calls := 0
	err := Do(context.Background(), Exponential(2, 20*time.Millisecond, 20*time.Millisecond), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("once")
		}
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
