// Package retry holds the backoff schedule shared by the HTTP and socket clients.
package retry

import (
	"context"
	"time"
)

const (
	baseDelay  = 100 * time.Millisecond
	maxAttempt = 6
)

// Backoff returns the wait after the given 1-based attempt: 100ms doubling,
// capped at 3.2s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxAttempt {
		attempt = maxAttempt
	}
	return time.Duration(1<<uint(attempt-1)) * baseDelay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
