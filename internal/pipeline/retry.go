package pipeline

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

type retryConfig struct {
	attempts  int
	baseDelay time.Duration
}

var defaultRetry = retryConfig{attempts: 3, baseDelay: time.Second}

// withRetry runs fn up to cfg.attempts times with doubling delays between
// attempts.
func withRetry(ctx context.Context, cfg retryConfig, logger *log.Logger, what string, fn func() error) error {
	var err error
	delay := cfg.baseDelay
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == cfg.attempts {
			break
		}
		logger.Warn("retrying", "op", what, "attempt", attempt, "max", cfg.attempts, "err", err)
		if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay *= 2
	}
	return err
}

// sleepWithContext sleeps for d but returns immediately if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
