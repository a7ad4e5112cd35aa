// Package model provides LLM chat adapters with a unified interface
// across providers (OpenAI, Anthropic, Google).
package model

import "context"

// Standard role constants shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single chat completion. Zero values leave the
// provider default in place.
type Options struct {
	// Temperature in [0, 2]; providers clamp as needed.
	Temperature float64

	// MaxTokens bounds the completion length. 0 uses the driver's
	// default.
	MaxTokens int

	// JSONSchema, when set, constrains the completion to a JSON
	// document matching the schema. Providers without native schema
	// enforcement fall back to JSON mode plus prompt steering.
	JSONSchema map[string]any

	// SchemaName labels the schema for providers that require one.
	SchemaName string
}

// Usage is the token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another completion's usage.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// Out is the result of one chat completion.
type Out struct {
	// Text is the generated completion.
	Text string

	// Model is the provider's reported model identifier.
	Model string

	// Usage is the token accounting, zero when the provider omits it.
	Usage Usage
}

// ChatModel is the provider-independent chat interface. Drivers must
// respect context cancellation, classify failures as transient or
// permanent, and retry transient ones internally with backoff.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts *Options) (Out, error)
}
