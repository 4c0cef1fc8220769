package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps test backoffs in the millisecond range.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_FirstAttemptSucceeds(t *testing.T) {
	var calls int
	body, err := DoVal(context.Background(), fastRetry(3), func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"subject":"[UPDATE] Chapul Q3"}`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, string(body), "Chapul")
}

func TestDoVal_RecoversFromThrottling(t *testing.T) {
	var calls int
	body, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("graph: status 429"), 429)
		}
		return "message body", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "message body", body)
}

func TestDoVal_PermanentErrorFailsFast(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		return "", errors.New("graph: status 404: message not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a missing message must not be refetched")
}

func TestDoVal_AttemptBudgetExhausted(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		return "", NewTransientError(errors.New("graph: status 503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "503")
}

func TestDoVal_CancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		Multiplier:     2.0,
	}

	var calls int
	_, err := DoVal(ctx, cfg, func(context.Context) (string, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return "", NewTransientError(errors.New("graph: status 502"), 502)
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestDoVal_OnRetryFiresPerBackoff(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_, err := DoVal(context.Background(), cfg, func(context.Context) (string, error) {
		return "", NewTransientError(errors.New("graph: status 500"), 500)
	})
	require.Error(t, err)
	// Two sleeps for three attempts; the final failure does not retry.
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ZeroConfigUsesDefaults(t *testing.T) {
	var calls int
	cfg := RetryConfig{InitialBackoff: time.Microsecond}
	_, err := DoVal(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		return "", NewTransientError(errors.New("flaky"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, calls)
}

func TestDelay_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	}.withDefaults()

	assert.Equal(t, 100*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.delay(3))
	assert.Equal(t, 800*time.Millisecond, cfg.delay(4))
	assert.Equal(t, time.Second, cfg.delay(5), "schedule caps at MaxBackoff")
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}.withDefaults()

	for i := 0; i < 100; i++ {
		d := cfg.delay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
