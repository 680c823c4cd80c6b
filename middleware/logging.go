package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/genqueue/job"
)

// Logging logs the start of each generation call and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("generation started",
			slog.String("job_id", j.ID.String()),
			slog.String("priority", string(j.Priority)),
			slog.Int("attempt", j.Attempts+1),
			slog.Int("max_attempts", j.MaxAttempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		outcome := Outcome(err)
		switch outcome {
		case OutcomeOK:
			logger.Info("generation succeeded",
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		case OutcomeCancelled:
			// Shutdown or job cancellation; the executor reports which.
			logger.Info("generation cancelled",
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		default:
			logger.Error("generation failed",
				slog.String("job_id", j.ID.String()),
				slog.String("outcome", outcome),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}

		return err
	}
}
