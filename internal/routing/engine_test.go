package routing

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/internal/providers"
	"aquascene/scribe/internal/registry"
)

type fakeProvider struct {
	id    string
	errs  []error // consumed one per call; nil entry or empty means success
	calls int
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) Generate(_ context.Context, req content.Request, attempt int) (content.Draft, error) {
	p.calls++
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	if err != nil {
		return content.Draft{}, err
	}
	return content.Draft{
		RequestID:   req.ID,
		ProviderID:  p.id,
		RawText:     "a planted tank thrives on patience",
		GeneratedAt: time.Now(),
		Attempt:     attempt,
	}, nil
}

type fakeScorer struct {
	outcomes []bool // consumed one per call; exhausted means pass
	calls    int
}

func (s *fakeScorer) Score(content.Draft, content.Request) content.Score {
	passed := true
	if s.calls < len(s.outcomes) {
		passed = s.outcomes[s.calls]
	}
	s.calls++
	agg := 0.9
	if !passed {
		agg = 0.3
	}
	return content.Score{
		Accuracy: agg, BrandVoice: agg, Structure: agg, Readability: agg,
		Aggregate: agg, Passed: passed,
	}
}

func (s *fakeScorer) Threshold() float64 { return 0.7 }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(t *testing.T, scorer Scorer, fakes ...*fakeProvider) (*Engine, *registry.Registry) {
	t.Helper()

	configs := make([]registry.ProviderConfig, 0, len(fakes))
	adapters := make(map[string]providers.Provider, len(fakes))
	for i, f := range fakes {
		configs = append(configs, registry.ProviderConfig{
			ID:             f.id,
			CapabilityTags: content.KnownTypes,
			CostPerUnit:    float64(i),
			PriorityWeight: 1 - float64(i)/10,
		})
		adapters[f.id] = f
	}
	reg, err := registry.New(configs)
	require.NoError(t, err)

	engine := NewEngine(Config{
		Registry:         reg,
		Providers:        adapters,
		Validator:        scorer,
		Logger:           testLogger(),
		Policy:           PolicyQualityFirst,
		RateLimitBackoff: time.Millisecond,
	})
	return engine, reg
}

func articleRequest() content.Request {
	return content.Request{
		ID:          "req-1",
		ContentType: content.TypeArticle,
		Topic:       "iwagumi layout basics",
	}
}

func TestGenerateFirstProviderSucceeds(t *testing.T) {
	a := &fakeProvider{id: "a"}
	b := &fakeProvider{id: "b"}
	engine, _ := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	require.True(t, result.Passed())
	assert.Equal(t, "a", result.ProviderID)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, a.calls)
	assert.Zero(t, b.calls)
}

func TestGenerateFallsBackOnUnavailable(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		content.NewError(content.KindProviderUnavailable, "a", errors.New("503")),
	}}
	b := &fakeProvider{id: "b"}
	engine, reg := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	require.True(t, result.Passed())
	assert.Equal(t, "b", result.ProviderID)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, a.calls)

	// The failure was recorded against a.
	reg.RecordFailure("a", content.KindProviderUnavailable)
	reg.RecordFailure("a", content.KindProviderUnavailable)
	state, _ := reg.AvailabilityOf("a")
	assert.Equal(t, registry.Unavailable, state)
}

func TestGenerateAuthErrorSkipsWithoutRetry(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		content.NewError(content.KindAuthError, "a", errors.New("401")),
	}}
	b := &fakeProvider{id: "b"}
	engine, _ := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	require.True(t, result.Passed())
	assert.Equal(t, "b", result.ProviderID)
	assert.Equal(t, 1, a.calls)
}

func TestGenerateRateLimitDegradesAndAdvances(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		content.NewError(content.KindRateLimited, "a", errors.New("429")),
	}}
	b := &fakeProvider{id: "b"}
	engine, reg := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	require.True(t, result.Passed())
	assert.Equal(t, "b", result.ProviderID)

	state, _ := reg.AvailabilityOf("a")
	assert.Equal(t, registry.Degraded, state)
}

func TestGenerateAllProvidersExhausted(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		content.NewError(content.KindProviderUnavailable, "a", errors.New("down")),
	}}
	b := &fakeProvider{id: "b", errs: []error{
		content.NewError(content.KindTimeout, "b", errors.New("slow")),
	}}
	engine, _ := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	assert.False(t, result.Passed())
	assert.Equal(t, content.KindAllProvidersExhausted, result.ErrorKind)
	assert.True(t, result.Exhausted)
	assert.Equal(t, 2, result.Attempts)
	assert.Contains(t, result.Error, "timeout")
	assert.Contains(t, result.Error, "provider_unavailable")
}

func TestGenerateNoCandidates(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeScorer{}, &fakeProvider{id: "a"})

	result := engine.Generate(context.Background(), content.Request{
		ID:          "req-2",
		ContentType: "haiku",
		Topic:       "moss",
	})

	assert.Equal(t, content.KindAllProvidersExhausted, result.ErrorKind)
	assert.Zero(t, result.Attempts)
}

func TestGenerateRegeneratesAfterFailedValidation(t *testing.T) {
	a := &fakeProvider{id: "a"}
	engine, _ := newTestEngine(t, &fakeScorer{outcomes: []bool{false, true}}, a)

	result := engine.Generate(context.Background(), articleRequest())

	require.True(t, result.Passed())
	assert.Equal(t, "a", result.ProviderID)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, a.calls)
}

func TestGenerateValidationBudgetExhausted(t *testing.T) {
	a := &fakeProvider{id: "a"}
	b := &fakeProvider{id: "b"}
	engine, _ := newTestEngine(t, &fakeScorer{outcomes: []bool{false, false}}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	assert.Equal(t, content.KindValidationFailed, result.ErrorKind)
	assert.Equal(t, "a", result.ProviderID)
	assert.Equal(t, 2, result.Attempts)
	// Validation failure is terminal: b never gets the request.
	assert.Zero(t, b.calls)
}

func TestGenerateCancelledReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeProvider{id: "a", errs: []error{
		content.NewError(content.KindCancelled, "a", context.Canceled),
	}}
	b := &fakeProvider{id: "b"}
	engine, _ := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(ctx, articleRequest())

	assert.Equal(t, content.KindCancelled, result.ErrorKind)
	assert.Zero(t, b.calls)
}

func TestGenerateWrapsUnclassifiedErrors(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{errors.New("wire torn down")}}
	b := &fakeProvider{id: "b"}
	engine, _ := newTestEngine(t, &fakeScorer{}, a, b)

	result := engine.Generate(context.Background(), articleRequest())

	// Raw errors are treated as provider_unavailable and routing moves on.
	require.True(t, result.Passed())
	assert.Equal(t, "b", result.ProviderID)
}

func TestGenerateLeavesRotationCursorForOtherPolicies(t *testing.T) {
	a := &fakeProvider{id: "a"}
	engine, reg := newTestEngine(t, &fakeScorer{}, a)

	// Quality-first traffic must not advance the shared round-robin cursor.
	for i := 0; i < 3; i++ {
		require.True(t, engine.Generate(context.Background(), articleRequest()).Passed())
	}
	assert.Equal(t, uint64(0), reg.NextCursor())
}
