package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Provider    string  // "openai" (any OpenAI-compatible endpoint) or "anthropic"
	Endpoint    string  // Base URL, e.g. "https://api.groq.com/openai/v1"
	Model       string  // Model name, e.g. "llama-3.3-70b-versatile"
	APIKey      string  // Optional for local endpoints
	Temperature float64
	MaxTokens   int
}

// NewClient creates an LLM client for the configured provider.
func NewClient(cfg *Config, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
