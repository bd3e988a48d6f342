package remote

import (
	"context"
	"time"
)

// RetryConfig controls in-call retry behavior for backend requests.
//
// This covers short transient blips within one reconciliation; failures that
// survive the in-call retries are handed back to the engine, which leaves
// the row dirty or the operation pending for the next trigger.
type RetryConfig struct {
	MaxAttempts int           // maximum number of attempts (default: 3)
	InitialWait time.Duration // wait before first retry (default: 500ms)
	MaxWait     time.Duration // maximum wait between retries (default: 10s)
	Multiplier  float64       // backoff multiplier (default: 2.0)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

// WithRetry executes fn with exponential backoff, retrying only transient
// errors. Rejections and auth failures return immediately.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	wait := cfg.InitialWait

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var result T
		result, err = fn()
		if err == nil {
			return result, nil
		}

		if !Transient(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	return zero, err
}
