package middleware

import (
	"context"

	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/scope"
)

// User returns middleware that restores the requesting user from the job
// payload into the context. Undecodable payloads pass through unchanged.
func User() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if req, err := job.DecodeRequest(j.Payload); err == nil {
			ctx = scope.WithUser(ctx, req.UserID)
		}
		return next(ctx)
	}
}
