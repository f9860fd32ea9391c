// Package handlers wires the HTTP surface onto the routing engine, batch
// processor, job store, and telemetry tracker.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aquascene/scribe/internal/batch"
	"aquascene/scribe/internal/content"
	"aquascene/scribe/internal/jobs"
	"aquascene/scribe/internal/registry"
	"aquascene/scribe/internal/routing"
	"aquascene/scribe/internal/telemetry"
	"aquascene/scribe/pkg/logging"
)

// asyncJobTimeout bounds a detached batch run so an abandoned job cannot
// hold workers forever.
const asyncJobTimeout = 30 * time.Minute

// Handlers holds the service dependencies for the HTTP layer.
type Handlers struct {
	engine    *routing.Engine
	processor *batch.Processor
	registry  *registry.Registry
	tracker   *telemetry.Tracker
	store     *jobs.Store
	logger    logging.Logger
}

// New creates the handler set. store may be nil when Redis is not
// configured; async batch submission then returns 503.
func New(engine *routing.Engine, processor *batch.Processor, reg *registry.Registry, tracker *telemetry.Tracker, store *jobs.Store, logger logging.Logger) *Handlers {
	return &Handlers{
		engine:    engine,
		processor: processor,
		registry:  reg,
		tracker:   tracker,
		store:     store,
		logger:    logger,
	}
}

// Register mounts the content API on the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.POST("/generate", h.Generate)
	router.POST("/batch", h.SubmitBatch)
	router.GET("/batch/:id", h.GetBatch)
	router.GET("/health/providers", h.ProviderHealth)
	router.GET("/stats", h.Stats)
}

// Generate handles POST /generate.
func (h *Handlers) Generate(c *gin.Context) {
	var req content.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ContentType.IsKnown() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported content_type", "content_type": req.ContentType})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	result := h.engine.Generate(c.Request.Context(), req)
	c.JSON(statusFor(result), result)
}

// SubmitBatch handles POST /batch. With ?async=1 the job is persisted and
// processed in the background; the response carries the id to poll.
func (h *Handlers) SubmitBatch(c *gin.Context) {
	var job content.BatchJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(job.Requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch requires at least one request"})
		return
	}
	if !job.Mode.IsKnown() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported processing_mode", "processing_mode": job.Mode})
		return
	}
	for i := range job.Requests {
		if !job.Requests[i].ContentType.IsKnown() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":        "unsupported content_type",
				"content_type": job.Requests[i].ContentType,
				"index":        i,
			})
			return
		}
		if job.Requests[i].ID == "" {
			job.Requests[i].ID = uuid.New().String()
		}
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = content.BatchPending
	job.SubmittedAt = time.Now().UTC()

	if c.Query("async") == "1" {
		h.submitAsync(c, &job)
		return
	}

	if err := h.processor.Process(c.Request.Context(), &job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handlers) submitAsync(c *gin.Context, job *content.BatchJob) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async batches require a job store"})
		return
	}
	if err := h.store.Put(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	go h.runAsync(job)

	c.JSON(http.StatusAccepted, gin.H{
		"id":     job.ID,
		"status": job.Status,
	})
}

// runAsync executes a detached batch job and persists every state
// transition, so pollers see pending, then running, then the terminal state.
func (h *Handlers) runAsync(job *content.BatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), asyncJobTimeout)
	defer cancel()

	if err := h.store.SetStatus(ctx, job.ID, content.BatchRunning); err != nil {
		h.logger.WithFields(logging.Fields{"batch_id": job.ID, "error": err.Error()}).Error("Failed to mark batch running")
	}
	if err := h.processor.Process(ctx, job); err != nil {
		h.logger.WithFields(logging.Fields{"batch_id": job.ID, "error": err.Error()}).Error("Async batch failed")
		job.Status = content.BatchPartialFailure
	}
	if err := h.store.Put(ctx, job); err != nil {
		h.logger.WithFields(logging.Fields{"batch_id": job.ID, "error": err.Error()}).Error("Failed to persist batch results")
	}
}

// GetBatch handles GET /batch/:id.
func (h *Handlers) GetBatch(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async batches require a job store"})
		return
	}
	job, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ProviderHealth handles GET /health/providers.
func (h *Handlers) ProviderHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": h.registry.Health(),
		"policy":    h.engine.Policy(),
	})
}

// Stats handles GET /stats. Providers with no recorded calls still appear,
// carrying just their availability.
func (h *Handlers) Stats(c *gin.Context) {
	stats := h.tracker.Snapshot()
	for id, state := range h.registry.Health() {
		s := stats[id]
		s.Availability = state
		stats[id] = s
	}
	c.JSON(http.StatusOK, gin.H{"providers": stats})
}

// statusFor maps a terminal result onto an HTTP status.
func statusFor(result content.Result) int {
	switch result.ErrorKind {
	case "":
		return http.StatusOK
	case content.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case content.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
