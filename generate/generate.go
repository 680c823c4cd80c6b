// Package generate defines the generation backend the worker calls for
// each job, and an HTTP implementation for Ollama-compatible endpoints.
package generate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/genqueue/job"
)

// Backend produces a result for one generation request. Implementations
// must honour ctx cancellation; the worker bounds every call with a
// deadline.
type Backend interface {
	Generate(ctx context.Context, req job.GenerationRequest) (*Result, error)
}

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, req job.GenerationRequest) (*Result, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, req job.GenerationRequest) (*Result, error) {
	return f(ctx, req)
}

// Result is the outcome of a successful generation. It is stored on the
// job record as JSON.
type Result struct {
	Text             string        `json:"text"`
	Model            string        `json:"model,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration_ns,omitempty"`
}

// Encode renders r for Job.Result.
func (r *Result) Encode() (json.RawMessage, error) {
	return json.Marshal(r)
}
