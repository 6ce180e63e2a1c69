package providers

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("empty model response")

// Provider is a chat model that can answer with structured JSON.
type Provider interface {
	// Complete sends messages and returns the raw text of the reply. When
	// req.Schema is set the reply is expected to be a JSON document
	// matching it.
	Complete(ctx context.Context, req Request) (string, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier ("openai", "anthropic").
	Name() string
}

// Request is one completion call.
type Request struct {
	Messages  []Message `json:"messages"`
	Model     string    `json:"model,omitempty"`
	Schema    *Schema   `json:"schema,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Schema names a JSON schema used as a response format.
type Schema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Message is a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

func System(text string) Message    { return Message{Role: "system", Content: text} }
func User(text string) Message      { return Message{Role: "user", Content: text} }
func Assistant(text string) Message { return Message{Role: "assistant", Content: text} }
