// Package providers implements the adapters that normalize remote
// text-generation backends behind a single Generate contract. The variant set
// is closed: new backends are added by extending the factory switch, not by
// runtime probing.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aquascene/scribe/internal/content"
)

// Provider is a single text-generation backend.
type Provider interface {
	// ID returns the configured provider id.
	ID() string

	// Generate produces one draft for the request. Errors are always
	// classified *content.Error values.
	Generate(ctx context.Context, req content.Request, attempt int) (content.Draft, error)
}

// Config describes how to reach one backend.
type Config struct {
	ID        string
	Kind      string // openai | anthropic | ollama
	Model     string
	APIKey    string
	APIURL    string
	MaxTokens int
}

// Recorder receives one event per provider call, success or failure.
// Implemented by the telemetry tracker.
type Recorder interface {
	RecordAttempt(providerID string, contentType content.ContentType, requestID string, attempt int, latency time.Duration, err error)
}

// classifyHTTPStatus maps a non-2xx provider response onto the error taxonomy.
func classifyHTTPStatus(providerID string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 256 {
		msg = msg[:256]
	}
	err := fmt.Errorf("unexpected status %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return content.NewError(content.KindAuthError, providerID, err)
	case status == http.StatusTooManyRequests:
		return content.NewError(content.KindRateLimited, providerID, err)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return content.NewError(content.KindProviderUnavailable, providerID, err)
	case status == http.StatusGatewayTimeout:
		return content.NewError(content.KindTimeout, providerID, err)
	default:
		return content.NewError(content.KindProviderUnavailable, providerID, err)
	}
}

// classifyTransportErr maps transport-level failures (timeouts, refused
// connections, cancellation) onto the error taxonomy.
func classifyTransportErr(providerID string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return content.NewError(content.KindTimeout, providerID, err)
	case errors.Is(err, context.Canceled):
		return content.NewError(content.KindCancelled, providerID, err)
	default:
		return content.NewError(content.KindProviderUnavailable, providerID, err)
	}
}

// instrumented decorates a provider so every call emits a telemetry event.
type instrumented struct {
	provider Provider
	recorder Recorder
}

// WithTelemetry wraps p so that each Generate call is recorded, win or lose.
func WithTelemetry(p Provider, rec Recorder) Provider {
	if rec == nil {
		return p
	}
	return &instrumented{provider: p, recorder: rec}
}

func (i *instrumented) ID() string {
	return i.provider.ID()
}

func (i *instrumented) Generate(ctx context.Context, req content.Request, attempt int) (content.Draft, error) {
	start := time.Now()
	draft, err := i.provider.Generate(ctx, req, attempt)
	i.recorder.RecordAttempt(i.provider.ID(), req.ContentType, req.ID, attempt, time.Since(start), err)
	return draft, err
}
