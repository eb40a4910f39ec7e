package exchange

import (
	"context"
	"math/rand"
	"time"

	"gridbot/logger"
)

const (
	defaultAttempts = 3
	baseBackoff     = 500 * time.Millisecond
)

// withRetry runs fn with bounded retry and jittered exponential backoff.
// Only transient venue failures are retried; anything else is returned to
// the caller immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := baseBackoff
	for attempt := 1; attempt <= defaultAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsUnavailable(err) {
			return err
		}
		if attempt == defaultAttempts {
			break
		}
		logger.Warnf("venue call %s failed (attempt %d/%d), retrying: %v", op, attempt, defaultAttempts, err)
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return err
}
