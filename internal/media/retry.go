package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds sequential retries with linear backoff: the wait after
// attempt n is n*BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// retry runs op until it succeeds, returns a permanent error, or the attempt
// ceiling is reached. The last error is returned.
func retry(ctx context.Context, policy RetryPolicy, sleep sleepFunc, logger *slog.Logger, what string, op func(attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := time.Duration(attempt) * policy.BaseDelay
		logger.Warn("retrying "+what,
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", lastErr),
		)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w (last error: %v)", what, err, lastErr)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, attempts, lastErr)
}
