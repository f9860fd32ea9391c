package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquascene/scribe/internal/batch"
	"aquascene/scribe/internal/content"
	"aquascene/scribe/internal/jobs"
	"aquascene/scribe/internal/providers"
	"aquascene/scribe/internal/registry"
	"aquascene/scribe/internal/routing"
	"aquascene/scribe/internal/telemetry"
)

type scriptedProvider struct {
	id   string
	errs []error
}

func (p *scriptedProvider) ID() string { return p.id }

func (p *scriptedProvider) Generate(_ context.Context, req content.Request, attempt int) (content.Draft, error) {
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return content.Draft{}, err
		}
	}
	return content.Draft{
		RequestID:   req.ID,
		ProviderID:  p.id,
		RawText:     "Layered stone, patient hands. #aquascape #plantedtank",
		GeneratedAt: time.Now(),
		Attempt:     attempt,
	}, nil
}

type passScorer struct{}

func (passScorer) Score(content.Draft, content.Request) content.Score {
	return content.Score{Accuracy: 0.9, BrandVoice: 0.9, Structure: 0.9, Readability: 0.9, Aggregate: 0.9, Passed: true}
}

func (passScorer) Threshold() float64 { return 0.7 }

func testRouter(t *testing.T, withStore bool, fakes ...*scriptedProvider) (*gin.Engine, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	configs := make([]registry.ProviderConfig, 0, len(fakes))
	adapters := make(map[string]providers.Provider, len(fakes))
	for i, f := range fakes {
		configs = append(configs, registry.ProviderConfig{
			ID:             f.id,
			CapabilityTags: content.KnownTypes,
			PriorityWeight: 1 - float64(i)/10,
		})
		adapters[f.id] = f
	}
	reg, err := registry.New(configs)
	require.NoError(t, err)

	tracker := telemetry.NewTracker(telemetry.Config{Source: "test", Logger: logger})
	engine := routing.NewEngine(routing.Config{
		Registry:         reg,
		Providers:        adapters,
		Validator:        passScorer{},
		Logger:           logger,
		Policy:           routing.PolicyQualityFirst,
		RateLimitBackoff: time.Millisecond,
	})
	processor := batch.NewProcessor(batch.Config{Generator: engine, Logger: logger, MaxConcurrent: 2})

	var store *jobs.Store
	if withStore {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		store = jobs.NewStore(client, logger, time.Hour)
	}

	router := gin.New()
	New(engine, processor, reg, tracker, store, logger).Register(router)
	return router, reg
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGenerateEndpoint(t *testing.T) {
	router, _ := testRouter(t, false, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodPost, "/generate", gin.H{
		"content_type": "social_caption",
		"topic":        "hardscape reveal",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result content.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Passed())
	assert.Equal(t, "a", result.ProviderID)
	assert.NotEmpty(t, result.RequestID)
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	router, _ := testRouter(t, false, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodPost, "/generate", gin.H{"topic": "missing type"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/generate", gin.H{
		"content_type": "sonnet",
		"topic":        "moss",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateReportsExhaustion(t *testing.T) {
	failing := &scriptedProvider{id: "a", errs: []error{
		content.NewError(content.KindProviderUnavailable, "a", errors.New("down")),
	}}
	router, _ := testRouter(t, false, failing)

	w := doJSON(t, router, http.MethodPost, "/generate", gin.H{
		"content_type": "social_caption",
		"topic":        "hardscape reveal",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var result content.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, content.KindAllProvidersExhausted, result.ErrorKind)
}

func TestBatchSynchronous(t *testing.T) {
	router, _ := testRouter(t, false, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodPost, "/batch", gin.H{
		"processing_mode": "concurrent",
		"requests": []gin.H{
			{"content_type": "social_caption", "topic": "trim day"},
			{"content_type": "community_post", "topic": "first scape questions"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var job content.BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, content.BatchCompleted, job.Status)
	require.Len(t, job.Results, 2)
	assert.True(t, job.Results[0].Passed())
	require.NotNil(t, job.CompletedAt)
}

func TestBatchRejectsEmptyRequestList(t *testing.T) {
	router, _ := testRouter(t, false, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodPost, "/batch", gin.H{"requests": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchRejectsUnknownMode(t *testing.T) {
	router, _ := testRouter(t, true, &scriptedProvider{id: "a"})

	payload := gin.H{
		"processing_mode": "turbo",
		"requests": []gin.H{
			{"content_type": "social_caption", "topic": "trim day"},
			{"content_type": "digest", "topic": "week 32"},
		},
	}

	w := doJSON(t, router, http.MethodPost, "/batch", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "processing_mode")

	// The async path must refuse up front too; otherwise a job that can
	// never run would be persisted and polled forever.
	w = doJSON(t, router, http.MethodPost, "/batch?async=1", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchAsyncLifecycle(t *testing.T) {
	router, _ := testRouter(t, true, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodPost, "/batch?async=1", gin.H{
		"requests": []gin.H{
			{"content_type": "social_caption", "topic": "trim day"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.ID)

	require.Eventually(t, func() bool {
		poll := doJSON(t, router, http.MethodGet, "/batch/"+accepted.ID, nil)
		if poll.Code != http.StatusOK {
			return false
		}
		var job content.BatchJob
		if err := json.Unmarshal(poll.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == content.BatchCompleted && len(job.Results) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBatchAsyncWithoutStore(t *testing.T) {
	router, _ := testRouter(t, false, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodPost, "/batch?async=1", gin.H{
		"requests": []gin.H{{"content_type": "digest", "topic": "week 32"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetBatchNotFound(t *testing.T) {
	router, _ := testRouter(t, true, &scriptedProvider{id: "a"})

	w := doJSON(t, router, http.MethodGet, "/batch/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviderHealthEndpoint(t *testing.T) {
	router, reg := testRouter(t, false, &scriptedProvider{id: "a"}, &scriptedProvider{id: "b"})
	reg.RecordFailure("b", content.KindRateLimited)

	w := doJSON(t, router, http.MethodGet, "/health/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers map[string]registry.Availability `json:"providers"`
		Policy    routing.Policy                   `json:"policy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, registry.Available, body.Providers["a"])
	assert.Equal(t, registry.Degraded, body.Providers["b"])
	assert.Equal(t, routing.PolicyQualityFirst, body.Policy)
}

func TestStatsEndpoint(t *testing.T) {
	router, _ := testRouter(t, false, &scriptedProvider{id: "a"})

	// Drive one request through so the tracker has something to report.
	doJSON(t, router, http.MethodPost, "/generate", gin.H{
		"content_type": "social_caption",
		"topic":        "trim day",
	})

	w := doJSON(t, router, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers map[string]telemetry.ProviderStats `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body.Providers, "a")
	assert.Equal(t, registry.Available, body.Providers["a"].Availability)
}
