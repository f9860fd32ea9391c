package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/pkg/clients"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	id        string
	client    *http.Client
	executor  failsafe.Executor[*http.Response]
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.anthropic.com"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		id:        cfg.ID,
		client:    &http.Client{},
		executor:  clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) ID() string {
	return p.id
}

func (p *AnthropicProvider) Generate(ctx context.Context, req content.Request, attempt int) (content.Draft, error) {
	if p.model == "" {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, errors.New("anthropic model is required"))
	}

	system, user := buildMessages(req)
	reqBody := anthropicRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: user},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, fmt.Errorf("anthropic: marshal request: %w", err))
	}

	resp, err := clients.ExecuteHTTP(ctx, p.executor, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v1/messages", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("X-API-Key", p.apiKey)
		}
		httpReq.Header.Set("Anthropic-Version", "2023-06-01")
		return p.client.Do(httpReq)
	})
	if err != nil {
		return content.Draft{}, classifyTransportErr(p.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return content.Draft{}, classifyHTTPStatus(p.id, resp.StatusCode, string(body))
	}

	var message anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, fmt.Errorf("anthropic: decode response: %w", err))
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, errors.New("anthropic: empty completion"))
	}

	return content.Draft{
		RequestID:   req.ID,
		ProviderID:  p.id,
		RawText:     text.String(),
		GeneratedAt: time.Now().UTC(),
		Attempt:     attempt,
	}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
