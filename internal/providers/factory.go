package providers

import (
	"fmt"
	"strings"
)

// NewProvider constructs the adapter variant for cfg.Kind.
func NewProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	switch strings.ToLower(cfg.Kind) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
