package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig bounds how often a failed call is repeated.
type RetryConfig struct {
	Attempts int           // total attempts, including the first
	Timeout  time.Duration // per-attempt deadline; 0 means none
	Backoff  time.Duration // pause between attempts
}

// DefaultRetryConfig is one retry with a 10s deadline per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 2, Timeout: 10 * time.Second, Backoff: 250 * time.Millisecond}
}

// RetryDo runs fn until it succeeds, attempts are exhausted or ctx ends.
// Each attempt gets its own deadline derived from cfg.Timeout.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.Backoff):
			}
			slog.Debug("llm retry", "attempt", i+1, "error", lastErr)
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		out, err := fn(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return zero, lastErr
}

// nonRetryable marks errors that repeating cannot fix.
type nonRetryable struct{ err error }

func (e nonRetryable) Error() string { return e.err.Error() }
func (e nonRetryable) Unwrap() error { return e.err }

// Permanent wraps err so RetryDo stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryable{err: err}
}

func retryable(err error) bool {
	var p nonRetryable
	return !errors.As(err, &p)
}
