package wire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        maxRetries,
		BaseDelay:         0.001,
		MaxDelay:          0.01,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransportError("test", "flaky", nil, true)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransportError("test", "down", nil, true)
	})
	require.Error(t, err)
	// Initial call plus two retries.
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrorFromStatusCode("test", 401, "bad key", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	t.Run("hint within cap", func(t *testing.T) {
		hint := 0.002
		var observed time.Duration
		policy := fastPolicy(1)
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			observed = delay
		}

		calls := 0
		_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, ErrorFromStatusCode("test", 429, "slow down", &hint)
			}
			return 1, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2*time.Millisecond, observed)
	})

	t.Run("hint beyond cap surfaces immediately", func(t *testing.T) {
		hint := 10.0 // cap is 0.01s
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrorFromStatusCode("test", 429, "come back later", &hint)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 10, MaxDelay: 10, BackoffMultiplier: 1}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransportError("test", "down", nil, true)
	})

	var ce *CancellationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDelayBackoff(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 1, MaxDelay: 4, BackoffMultiplier: 2}
	assert.Equal(t, 1*time.Second, policy.Delay(0))
	assert.Equal(t, 2*time.Second, policy.Delay(1))
	assert.Equal(t, 4*time.Second, policy.Delay(2))
	// Capped.
	assert.Equal(t, 4*time.Second, policy.Delay(5))
}
