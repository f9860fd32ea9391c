// Package routing chooses which providers serve a request and in what order,
// and drives the attempt loop across them. It is the classification boundary:
// provider and validator errors are caught here and mapped onto the error
// taxonomy; nothing rawer escapes to callers.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/internal/providers"
	"aquascene/scribe/internal/registry"
	"aquascene/scribe/pkg/logging"
)

// Scorer judges a draft against its request. Implemented by the validation
// package.
type Scorer interface {
	Score(draft content.Draft, req content.Request) content.Score
	Threshold() float64
}

const (
	// DefaultMaxValidationAttempts bounds regeneration after failed
	// validation: initial draft plus one retry.
	DefaultMaxValidationAttempts = 2

	// DefaultTimeout bounds an interactive provider call.
	DefaultTimeout = 30 * time.Second

	// DefaultHeavyTimeout bounds long-form batch content types.
	DefaultHeavyTimeout = 180 * time.Second

	// DefaultRateLimitBackoff is the pause after a 429 before the next
	// candidate is tried.
	DefaultRateLimitBackoff = 2 * time.Second
)

// Config configures an Engine.
type Config struct {
	Registry              *registry.Registry
	Providers             map[string]providers.Provider
	Validator             Scorer
	Logger                logging.Logger
	Policy                Policy
	MaxValidationAttempts int
	Timeout               time.Duration
	HeavyTimeout          time.Duration
	RateLimitBackoff      time.Duration
}

// Engine routes requests across providers with fallback.
type Engine struct {
	registry  *registry.Registry
	providers map[string]providers.Provider
	validator Scorer
	logger    logging.Logger

	policy           Policy
	maxValidation    int
	timeout          time.Duration
	heavyTimeout     time.Duration
	rateLimitBackoff time.Duration
}

// NewEngine creates a routing engine with defaults applied.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		registry:         cfg.Registry,
		providers:        cfg.Providers,
		validator:        cfg.Validator,
		logger:           cfg.Logger,
		policy:           cfg.Policy,
		maxValidation:    cfg.MaxValidationAttempts,
		timeout:          cfg.Timeout,
		heavyTimeout:     cfg.HeavyTimeout,
		rateLimitBackoff: cfg.RateLimitBackoff,
	}
	if !e.policy.IsKnown() {
		e.policy = PolicyBalanced
	}
	if e.maxValidation <= 0 {
		e.maxValidation = DefaultMaxValidationAttempts
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.heavyTimeout <= 0 {
		e.heavyTimeout = DefaultHeavyTimeout
	}
	if e.rateLimitBackoff <= 0 {
		e.rateLimitBackoff = DefaultRateLimitBackoff
	}
	return e
}

// Policy returns the engine's configured routing policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Generate runs one request through candidate selection, the provider
// attempt loop, and validation, returning a terminal Result either way.
//
// The loop is an explicit state machine over (candidate cursor, attempt
// count, validation budget); every path either advances the cursor or spends
// validation budget, so termination is structural.
func (e *Engine) Generate(ctx context.Context, req content.Request) content.Result {
	result := content.Result{RequestID: req.ID}

	if !req.ContentType.IsKnown() {
		result.ErrorKind = content.KindAllProvidersExhausted
		result.Error = fmt.Sprintf("unsupported content type %q", req.ContentType)
		return result
	}

	candidates := e.registry.Candidates(req.ContentType)
	if len(candidates) == 0 {
		result.ErrorKind = content.KindAllProvidersExhausted
		result.Error = fmt.Sprintf("no available providers support content type %q", req.ContentType)
		return result
	}
	// The shared rotation cursor only moves for round-robin traffic; other
	// policies must not perturb its position.
	var rotation uint64
	if e.policy == PolicyRoundRobin {
		rotation = e.registry.NextCursor()
	}
	candidates = orderCandidates(candidates, e.policy, rotation)

	timeout := e.timeout
	if req.ContentType.Heavy() {
		timeout = e.heavyTimeout
	}

	attempts := 0
	validationBudget := e.maxValidation
	rejections := map[content.ErrorKind]int{}

	for cursor := 0; cursor < len(candidates); cursor++ {
		candidate := candidates[cursor]
		provider, ok := e.providers[candidate.ID]
		if !ok {
			// Manifest listed a provider the factory could not build.
			rejections[content.KindProviderUnavailable]++
			continue
		}

		attempts++
		started := time.Now()
		draft, err := e.callProvider(ctx, provider, req, attempts, timeout)
		if err != nil {
			kind := content.KindOf(err)
			e.registry.RecordFailure(candidate.ID, kind)

			e.logger.WithFields(logging.Fields{
				"request_id":   req.ID,
				"provider_id":  candidate.ID,
				"content_type": req.ContentType,
				"attempt":      attempts,
				"error_kind":   kind,
			}).Warn("Provider attempt failed")

			if kind == content.KindCancelled {
				result.ErrorKind = content.KindCancelled
				result.Error = "request cancelled"
				result.Attempts = attempts
				return result
			}

			rejections[kind]++
			if kind == content.KindRateLimited {
				if !e.backoff(ctx) {
					result.ErrorKind = content.KindCancelled
					result.Error = "request cancelled during backoff"
					result.Attempts = attempts
					return result
				}
			}
			// auth_error, timeout, provider_unavailable: fall through to the
			// next candidate. The failing provider is never called again for
			// this request.
			continue
		}

		e.registry.RecordSuccess(candidate.ID, time.Since(started))

		score := e.validator.Score(draft, req)
		validationBudget--
		if score.Passed {
			e.logger.WithFields(logging.Fields{
				"request_id":  req.ID,
				"provider_id": candidate.ID,
				"attempts":    attempts,
				"aggregate":   score.Aggregate,
			}).Info("Generation accepted")

			result.ProviderID = candidate.ID
			result.Draft = &draft
			result.Score = &score
			result.Attempts = attempts
			return result
		}

		rejections[content.KindValidationFailed]++
		if validationBudget > 0 {
			// Spend the remaining budget on the same provider before moving
			// on: it already proved reachable, and a regeneration is cheaper
			// than re-running discovery of a working candidate.
			cursor--
			continue
		}

		result.ErrorKind = content.KindValidationFailed
		result.ProviderID = candidate.ID
		result.Error = fmt.Sprintf("draft failed validation %d times (last aggregate %.2f, threshold %.2f)",
			e.maxValidation, score.Aggregate, e.validator.Threshold())
		result.Attempts = attempts
		result.Exhausted = true
		return result
	}

	result.ErrorKind = content.KindAllProvidersExhausted
	result.Error = exhaustedMessage(req, rejections)
	result.Attempts = attempts
	result.Exhausted = true
	return result
}

// callProvider invokes the adapter under the per-call timeout and guarantees
// the returned error is classified.
func (e *Engine) callProvider(ctx context.Context, provider providers.Provider, req content.Request, attempt int, timeout time.Duration) (content.Draft, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	draft, err := provider.Generate(callCtx, req, attempt)
	if err == nil {
		return draft, nil
	}

	var classified *content.Error
	if !errors.As(err, &classified) {
		err = content.NewError(content.KindProviderUnavailable, provider.ID(), err)
	}
	// A deadline on the call context that the parent did not share is a
	// provider timeout, not a caller cancellation.
	if content.KindOf(err) == content.KindCancelled && ctx.Err() == nil {
		err = content.NewError(content.KindTimeout, provider.ID(), err)
	}
	return content.Draft{}, err
}

// backoff sleeps for the rate-limit pause; returns false if ctx was
// cancelled first.
func (e *Engine) backoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.rateLimitBackoff):
		return true
	}
}

// exhaustedMessage aggregates rejection reasons into one actionable error,
// rather than reporting only whichever provider failed last.
func exhaustedMessage(req content.Request, rejections map[content.ErrorKind]int) string {
	if len(rejections) == 0 {
		return fmt.Sprintf("all providers exhausted for content type %q", req.ContentType)
	}
	msg := fmt.Sprintf("all providers exhausted for content type %q:", req.ContentType)
	for _, kind := range []content.ErrorKind{
		content.KindAuthError,
		content.KindRateLimited,
		content.KindTimeout,
		content.KindProviderUnavailable,
		content.KindValidationFailed,
	} {
		if n := rejections[kind]; n > 0 {
			msg += fmt.Sprintf(" %s x%d", kind, n)
		}
	}
	return msg
}
