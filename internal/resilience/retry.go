package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the backoff schedule for calls to the mail API.
// Zero values fall back to the defaults at call time, so a partially
// populated config from the environment is safe to use as-is.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, first try included.
	// 1 disables retries. Default 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Default 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the schedule. Default 30s.
	MaxBackoff time.Duration

	// Multiplier grows the delay between consecutive attempts. Default 2.
	Multiplier float64

	// JitterFraction spreads each delay by ±fraction so a worker pool
	// hammered by the same 429 does not retry in lockstep. Default 0.25.
	JitterFraction float64

	// OnRetry is invoked with the attempt number and error before each
	// backoff sleep. See RetryLogger.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the schedule used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// DoVal runs fn until it returns a value, the error is permanent, the
// attempt budget is spent, or ctx is cancelled. Only errors IsTransient
// recognizes (throttling, 5xx, network flakes) are retried; a 404 or an
// auth failure surfaces immediately so the caller can dead-letter it.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) || attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, cfg.delay(attempt)) {
			break
		}
	}
	return zero, lastErr
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// delay returns the backoff before attempt+1. Attempt numbers are
// 1-based, so the first sleep is exactly InitialBackoff.
func (cfg RetryConfig) delay(attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.JitterFraction
	}
	return time.Duration(math.Max(d, 0))
}

// sleep blocks for d or until ctx is cancelled; it reports whether the
// full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry of one
// named operation against one external service.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
