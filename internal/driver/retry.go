package driver

import (
	"context"
	"time"
)

// withRetry runs fn until it succeeds, allowing up to maxRetries additional
// attempts with doubling backoff between them. Retry policy lives here in
// the driver; variant translators surface contract failures without
// retrying. Returns the last error when all attempts fail, or the context
// error if cancelled while waiting.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
