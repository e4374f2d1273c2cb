package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is one entry of the internal chat transcript.
type Message struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

// Usage is normalized token accounting. Providers that report nothing
// degrade to zeros, never to an error.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request carries the transcript plus generation parameters for one turn.
type Request struct {
	Model    string
	Messages []Message

	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64

	// "" = infer from model name; "chat" or "responses" forces an endpoint.
	EndpointOverride string
}

// Result is a normalized backend reply.
type Result struct {
	Text  string
	Usage Usage
}

// Provider adapts the internal request/result shapes to one vendor's wire
// format.
type Provider interface {
	Chat(ctx context.Context, req Request) (Result, error)
}

var (
	// ErrNoModelConfigured means no model selection path produced a config.
	ErrNoModelConfigured = errors.New("llm: no model configured")

	// ErrNotImplemented marks vendors without a ready integration; routing to
	// them is a visible misconfiguration, not a silent no-op.
	ErrNotImplemented = errors.New("llm: vendor integration not implemented")
)

// BackendError wraps any network/HTTP/parse failure talking to a vendor.
// The diagnostic never contains credentials.
type BackendError struct {
	Vendor string
	Status int
	Detail string
	Err    error
}

func (e *BackendError) Error() string {
	switch {
	case e.Detail != "" && e.Status > 0:
		return fmt.Sprintf("%s backend: status %d: %s", e.Vendor, e.Status, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%s backend: %s", e.Vendor, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s backend: %v", e.Vendor, e.Err)
	default:
		return fmt.Sprintf("%s backend: request failed", e.Vendor)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }
