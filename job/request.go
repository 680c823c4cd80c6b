package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xraph/genqueue"
)

// GenerationRequest is the typed view of a job payload. Producers may add
// further keys; they are preserved untouched in Job.Payload.
type GenerationRequest struct {
	Prompt   string `json:"prompt"`
	UserID   string `json:"user_id"`
	ParentID string `json:"parent_id,omitempty"`
	ForkOfID string `json:"fork_of_id,omitempty"`
	Model    string `json:"model,omitempty"`
}

// DecodeRequest parses a payload into a GenerationRequest and checks that
// the fields the worker depends on are present.
func DecodeRequest(payload json.RawMessage) (GenerationRequest, error) {
	var req GenerationRequest
	if err := ValidatePayload(payload); err != nil {
		return req, err
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("%w: %v", genqueue.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, fmt.Errorf("%w: prompt is required", genqueue.ErrInvalidPayload)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return req, fmt.Errorf("%w: user_id is required", genqueue.ErrInvalidPayload)
	}
	return req, nil
}

// ValidatePayload checks that payload is a JSON object.
func ValidatePayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("%w: payload must be a JSON object", genqueue.ErrInvalidPayload)
	}
	return nil
}
