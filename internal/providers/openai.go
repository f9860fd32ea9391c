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

// OpenAIProvider talks to the OpenAI chat completions API, or any
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	id        string
	client    *http.Client
	executor  failsafe.Executor[*http.Response]
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		id:        cfg.ID,
		client:    &http.Client{},
		executor:  clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) ID() string {
	return p.id
}

func (p *OpenAIProvider) Generate(ctx context.Context, req content.Request, attempt int) (content.Draft, error) {
	if p.model == "" {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, errors.New("openai model is required"))
	}

	system, user := buildMessages(req)
	reqBody := openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: p.maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, fmt.Errorf("openai: marshal request: %w", err))
	}

	resp, err := clients.ExecuteHTTP(ctx, p.executor, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/chat/completions", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("openai: create request: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
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

	var completion openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, fmt.Errorf("openai: decode response: %w", err))
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return content.Draft{}, content.NewError(content.KindProviderUnavailable, p.id, errors.New("openai: empty completion"))
	}

	return content.Draft{
		RequestID:   req.ID,
		ProviderID:  p.id,
		RawText:     completion.Choices[0].Message.Content,
		GeneratedAt: time.Now().UTC(),
		Attempt:     attempt,
	}, nil
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
