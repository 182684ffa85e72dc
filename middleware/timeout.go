package middleware

import (
	"context"
	"time"

	"github.com/ledgerline/taskbus/job"
)

// Timeout returns middleware that enforces a fixed execution deadline on
// every job. The core imposes no default timeout; handlers wanting one
// opt in through this middleware or build it into themselves. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
