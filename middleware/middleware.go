package middleware

import (
	"context"
	"errors"

	"github.com/xraph/genqueue/job"
)

// Handler is the terminal function that runs the generation.
type Handler func(ctx context.Context) error

// Middleware wraps the generation call of one job attempt. It MUST call
// next unless it deliberately short-circuits with an error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware so the first one is the outermost wrapper:
// Chain(logging, recover, timeout) runs logging → recover → timeout → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Outcome values reported by Logging, Tracing and Metrics.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Outcome classifies the result of a generation call. A deadline hit is a
// timeout; a cancelled context means shutdown or a job cancellation.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// promptChars is the prompt length in runes, or -1 if the payload does not
// decode.
func promptChars(j *job.Job) int {
	req, err := job.DecodeRequest(j.Payload)
	if err != nil {
		return -1
	}
	return len([]rune(req.Prompt))
}
