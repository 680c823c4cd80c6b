package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/genqueue/job"
)

// Timeout returns middleware that bounds the generation call with a hard
// deadline. A zero or negative d disables it. When the deadline passes
// the context is cancelled and the backend should return
// context.DeadlineExceeded.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("generation deadline set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
