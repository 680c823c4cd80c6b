package generate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/scope"
)

func TestHTTPBackend_Success(t *testing.T) {
	var (
		gotBody map[string]any
		gotUser string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotUser = r.Header.Get("X-User-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"model":"llama3","response":"a pixel sunset","done":true,"prompt_eval_count":5,"eval_count":9}`))
	}))
	defer srv.Close()

	b := generate.NewHTTPBackend(srv.URL+"/", "llama3")
	ctx := scope.WithUser(context.Background(), "u1")
	res, err := b.Generate(ctx, job.GenerationRequest{Prompt: "draw a sunset", UserID: "u1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Text != "a pixel sunset" || res.CompletionTokens != 9 || res.PromptTokens != 5 {
		t.Errorf("unexpected result %+v", res)
	}
	if gotBody["model"] != "llama3" || gotBody["prompt"] != "draw a sunset" || gotBody["stream"] != false {
		t.Errorf("unexpected request body %v", gotBody)
	}
	if gotUser != "u1" {
		t.Errorf("X-User-ID = %q, want u1", gotUser)
	}
}

func TestHTTPBackend_RequestModelOverrides(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		model, _ = body["model"].(string)
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	b := generate.NewHTTPBackend(srv.URL, "default-model",
		generate.WithPromptFunc(func(req job.GenerationRequest) string { return "SYSTEM\n" + req.Prompt }),
	)
	if _, err := b.Generate(context.Background(), job.GenerationRequest{Prompt: "p", UserID: "u", Model: "mistral"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if model != "mistral" {
		t.Fatalf("model = %q, want mistral", model)
	}
}

func TestHTTPBackend_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{"server error", http.StatusServiceUnavailable, "overloaded", true},
		{"client error", http.StatusBadRequest, `{"error":"model not found"}`, false},
		{"error field", http.StatusOK, `{"error":"context length exceeded"}`, false},
		{"empty response", http.StatusOK, `{"response":"  ","done":true}`, false},
		{"malformed", http.StatusOK, `not json`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := generate.NewHTTPBackend(srv.URL, "m").
				Generate(context.Background(), job.GenerationRequest{Prompt: "p", UserID: "u"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, genqueue.ErrBackendUnavailable); got != tt.unavailable {
				t.Errorf("ErrBackendUnavailable = %v, want %v (err: %v)", got, tt.unavailable, err)
			}
		})
	}
}

func TestHTTPBackend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := generate.NewHTTPBackend(srv.URL, "m").
		Generate(ctx, job.GenerationRequest{Prompt: "p", UserID: "u"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := generate.NewHTTPBackend(url, "m").
		Generate(context.Background(), job.GenerationRequest{Prompt: "p", UserID: "u"})
	if !errors.Is(err, genqueue.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestHTTPBackend_LongErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("é", 1000)))
	}))
	defer srv.Close()

	_, err := generate.NewHTTPBackend(srv.URL, "m").
		Generate(context.Background(), job.GenerationRequest{Prompt: "p", UserID: "u"})
	if !errors.Is(err, genqueue.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Errorf("error message splits a rune: %q", msg)
	}
	if !strings.HasSuffix(msg, "...") || strings.Count(msg, "é") > 256 {
		t.Errorf("error body not truncated: %d bytes", len(msg))
	}
}

func TestHTTPBackend_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"` + strings.Repeat("x", 4096) + `","done":true}`))
	}))
	defer srv.Close()

	_, err := generate.NewHTTPBackend(srv.URL, "m", generate.WithMaxResponseBytes(1024)).
		Generate(context.Background(), job.GenerationRequest{Prompt: "p", UserID: "u"})
	if err == nil {
		t.Fatal("oversized response accepted")
	}
	if errors.Is(err, genqueue.ErrBackendUnavailable) {
		t.Errorf("oversized response reported as unavailable: %v", err)
	}
}

func TestHTTPBackend_CustomClientKeepsUserHeader(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-ID")
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	hc := &http.Client{Timeout: time.Second}
	b := generate.NewHTTPBackend(srv.URL, "m", generate.WithHTTPClient(hc))
	if _, err := b.Generate(scope.WithUser(context.Background(), "u7"), job.GenerationRequest{Prompt: "p", UserID: "u7"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotUser != "u7" {
		t.Errorf("X-User-ID = %q, want u7", gotUser)
	}
	if hc.Transport != nil {
		t.Error("caller's client was modified")
	}
}

func TestHTTPBackend_InvalidEndpoint(t *testing.T) {
	_, err := generate.NewHTTPBackend("http://[::1", "m").
		Generate(context.Background(), job.GenerationRequest{Prompt: "p", UserID: "u"})
	if err == nil || !strings.Contains(err.Error(), "invalid endpoint") {
		t.Fatalf("err = %v, want invalid endpoint", err)
	}
}

func TestResultEncode(t *testing.T) {
	raw, err := (&generate.Result{Text: "hi", Model: "m"}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(raw), `"text":"hi"`) {
		t.Fatalf("unexpected encoding %s", raw)
	}
}
