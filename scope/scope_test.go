package scope_test

import (
	"context"
	"testing"

	"github.com/xraph/genqueue/scope"
)

func TestWithUser(t *testing.T) {
	ctx := scope.WithUser(context.Background(), "u1")
	if got := scope.UserFrom(ctx); got != "u1" {
		t.Fatalf("UserFrom = %q, want u1", got)
	}
}

func TestWithUser_Empty(t *testing.T) {
	base := context.Background()
	if ctx := scope.WithUser(base, ""); ctx != base {
		t.Fatal("empty user should return the same context")
	}
	if got := scope.UserFrom(base); got != "" {
		t.Fatalf("UserFrom on bare context = %q", got)
	}
}
