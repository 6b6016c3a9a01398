package agent

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries at a fixed interval. MaxAttempts <= 0 retries until the
// context ends.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Do calls fn until it succeeds, attempts run out or ctx is done. onRetry,
// when set, sees every failed attempt that will be retried.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
