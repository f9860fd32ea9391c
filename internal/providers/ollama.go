package providers

import (
	"context"
	"strings"

	"aquascene/scribe/internal/content"
)

// OllamaProvider serves generations from a locally hosted model through
// Ollama's OpenAI-compatible endpoint.
type OllamaProvider struct {
	openai *OpenAIProvider
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	cfgCopy := cfg
	if strings.TrimSpace(cfgCopy.APIURL) == "" {
		cfgCopy.APIURL = "http://localhost:11434/v1"
	}
	return &OllamaProvider{
		openai: NewOpenAIProvider(cfgCopy),
	}
}

func (p *OllamaProvider) ID() string {
	return p.openai.ID()
}

func (p *OllamaProvider) Generate(ctx context.Context, req content.Request, attempt int) (content.Draft, error) {
	return p.openai.Generate(ctx, req, attempt)
}
