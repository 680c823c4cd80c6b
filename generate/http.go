package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ollama/ollama/api"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/scope"
)

var _ Backend = (*HTTPBackend)(nil)

const (
	// maxErrorBody caps how much of an error response is kept in messages.
	maxErrorBody = 512

	// DefaultMaxResponseBytes caps the response body read from the model.
	DefaultMaxResponseBytes int64 = 8 << 20
)

// PromptFunc shapes the prompt sent to the model, e.g. to add a system
// preamble or thread a parent generation. The default sends it unchanged.
type PromptFunc func(req job.GenerationRequest) string

// HTTPBackend calls an Ollama POST /api/generate endpoint through the
// Ollama API client with streaming disabled.
type HTTPBackend struct {
	endpoint    string
	model       string
	httpClient  *http.Client
	maxResponse int64
	prompt      PromptFunc
	logger      *slog.Logger

	client *api.Client
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient sets the client used for requests. Its transport is
// wrapped, not replaced.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) { b.httpClient = c }
}

// WithPromptFunc sets how requests are rendered into prompts.
func WithPromptFunc(fn PromptFunc) HTTPOption {
	return func(b *HTTPBackend) { b.prompt = fn }
}

// WithMaxResponseBytes caps the response body. A longer body fails the
// generation.
func WithMaxResponseBytes(n int64) HTTPOption {
	return func(b *HTTPBackend) { b.maxResponse = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(b *HTTPBackend) { b.logger = l }
}

// NewHTTPBackend creates a backend for endpoint (e.g.
// "http://localhost:11434") using model unless a request names its own.
// An endpoint that does not parse is reported on the first Generate.
func NewHTTPBackend(endpoint, model string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		httpClient:  &http.Client{},
		maxResponse: DefaultMaxResponseBytes,
		prompt:      func(req job.GenerationRequest) string { return req.Prompt },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if base, err := url.Parse(b.endpoint); err == nil {
		hc := *b.httpClient
		hc.Transport = &transport{base: hc.Transport, maxResponse: b.maxResponse}
		b.client = api.NewClient(base, &hc)
	}
	return b
}

// Generate sends one non-streaming generation request. Transport failures
// and 5xx responses wrap genqueue.ErrBackendUnavailable.
func (b *HTTPBackend) Generate(ctx context.Context, req job.GenerationRequest) (*Result, error) {
	if b.client == nil {
		return nil, fmt.Errorf("genqueue/generate: invalid endpoint %q", b.endpoint)
	}

	model := req.Model
	if model == "" {
		model = b.model
	}
	stream := false

	var (
		text strings.Builder
		last api.GenerateResponse
	)
	start := time.Now()
	err := b.client.Generate(ctx, &api.GenerateRequest{
		Model:  model,
		Prompt: b.prompt(req),
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		last = resp
		return nil
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, fmt.Errorf("genqueue/generate: %w", ctx.Err())
	case errors.Is(err, genqueue.ErrBackendUnavailable):
		return nil, fmt.Errorf("genqueue/generate: %w", err)
	case isTransportError(err):
		return nil, fmt.Errorf("genqueue/generate: %w: %v", genqueue.ErrBackendUnavailable, err)
	default:
		return nil, fmt.Errorf("genqueue/generate: backend error: %w", err)
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, errors.New("genqueue/generate: backend returned an empty response")
	}

	elapsed := time.Since(start)
	b.logger.Debug("generation finished",
		slog.String("model", last.Model),
		slog.Int("completion_tokens", last.EvalCount),
		slog.Duration("elapsed", elapsed),
	)

	return &Result{
		Text:             text.String(),
		Model:            last.Model,
		PromptTokens:     last.PromptEvalCount,
		CompletionTokens: last.EvalCount,
		Duration:         elapsed,
	}, nil
}

// isTransportError reports whether err came from the HTTP round trip
// rather than from a response.
func isTransportError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// transport adds the caller's user to each request, turns 5xx responses
// into genqueue.ErrBackendUnavailable before the API client parses them,
// and caps successful bodies.
type transport struct {
	base        http.RoundTripper
	maxResponse int64
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if userID := scope.UserFrom(r.Context()); userID != "" {
		r = r.Clone(r.Context())
		r.Header.Set("X-User-ID", userID)
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", genqueue.ErrBackendUnavailable, resp.StatusCode, truncate(raw))
	}
	if t.maxResponse > 0 {
		resp.Body = &cappedBody{r: io.LimitReader(resp.Body, t.maxResponse+1), c: resp.Body, max: t.maxResponse}
	}
	return resp, nil
}

// cappedBody fails the read once more than max bytes have arrived.
type cappedBody struct {
	r    io.Reader
	c    io.Closer
	max  int64
	read int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		return n, fmt.Errorf("response exceeds %d bytes", b.max)
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.c.Close() }

// truncate trims b to maxErrorBody bytes without splitting a rune.
func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
