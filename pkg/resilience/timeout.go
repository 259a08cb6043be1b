package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn with a context cancelled after the given timeout.
// Capability and submission calls each carry their own caller-supplied
// timeout; a zero timeout means no limit.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(timeoutCtx); err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
		}
		return err
	}
	return nil
}
