// Package scope carries the requesting user's identity through
// context.Context while a job executes, so downstream calls (the
// generation backend, log records) can attribute work to the user who
// enqueued it.
package scope

import "context"

type userKey struct{}

// WithUser returns a context carrying userID. An empty userID returns ctx
// unchanged.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user carried by ctx, or "".
func UserFrom(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}
