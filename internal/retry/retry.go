// Package retry implements the inner, same-identity retry layer: a bounded number of
// attempts with exponential backoff, gated by a predicate over the failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Values < 1 mean 1.
	MaxAttempts int
	// Backoff yields the wait before the next attempt.
	Backoff Backoff
	// RetryIf reports whether a failed attempt may be retried. Nil retries nothing.
	RetryIf func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits between attempts; defaults to harvest.Sleep.
	Sleep harvest.Sleeper
	// Logger receives retry diagnostics; defaults to a no-op logger.
	Logger *zap.Logger
}

// Do runs op until it succeeds, fails with a non-retryable error, or the attempts run
// out. The last error is returned as-is so callers can still classify it.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoWithResult is Do for operations returning a value.
func DoWithResult[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = harvest.Sleep
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if p.RetryIf == nil || !p.RetryIf(err) {
			return zero, err
		}
		if attempt >= maxAttempts {
			logger.Warn("retry attempts exhausted",
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return zero, err
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.Delay(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		logger.Info("retrying operation",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if werr := sleep(ctx, delay); werr != nil {
			return zero, fmt.Errorf("retry canceled: %w", werr)
		}
	}
}
