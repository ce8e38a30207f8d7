// Package llm provides provider-agnostic LLM client functionality for
// structured note generation.
package llm

import "context"

// Client defines the interface for chat-completion operations.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// GenerateResponse generates a chat completion response with usage stats.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// GenerateResponseResult holds a completion plus the usage counters the
// pipeline records as quality metrics.
type GenerateResponseResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
