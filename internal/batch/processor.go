// Package batch runs ordered sets of generation requests under a concurrency
// policy. Results keep the positional order of their requests regardless of
// completion order.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/pkg/logging"
)

const (
	// DefaultMaxConcurrent caps the worker pool when the job does not set
	// its own limit.
	DefaultMaxConcurrent = 4

	// DefaultLowWatermark is the error rate below which the adaptive
	// controller grows the pool.
	DefaultLowWatermark = 0.1

	// DefaultHighWatermark is the error rate above which the adaptive
	// controller shrinks the pool.
	DefaultHighWatermark = 0.5

	// adaptiveWindow is how many recent outcomes the controller looks at.
	adaptiveWindow = 8
)

// Generator produces one result for one request. The routing engine
// implements this.
type Generator interface {
	Generate(ctx context.Context, req content.Request) content.Result
}

// Config configures a Processor.
type Config struct {
	Generator     Generator
	Logger        logging.Logger
	MaxConcurrent int
	LowWatermark  float64
	HighWatermark float64

	// Optional metrics, nil-safe.
	JobsTotal     *prometheus.CounterVec
	WorkersActive *prometheus.GaugeVec
	Duration      *prometheus.HistogramVec
}

// Processor executes batch jobs.
type Processor struct {
	generator     Generator
	logger        logging.Logger
	maxConcurrent int
	lowWater      float64
	highWater     float64

	jobsTotal     *prometheus.CounterVec
	workersActive *prometheus.GaugeVec
	duration      *prometheus.HistogramVec
}

// NewProcessor creates a batch processor with defaults applied.
func NewProcessor(cfg Config) *Processor {
	p := &Processor{
		generator:     cfg.Generator,
		logger:        cfg.Logger,
		maxConcurrent: cfg.MaxConcurrent,
		lowWater:      cfg.LowWatermark,
		highWater:     cfg.HighWatermark,
		jobsTotal:     cfg.JobsTotal,
		workersActive: cfg.WorkersActive,
		duration:      cfg.Duration,
	}
	if p.maxConcurrent <= 0 {
		p.maxConcurrent = DefaultMaxConcurrent
	}
	if p.lowWater <= 0 {
		p.lowWater = DefaultLowWatermark
	}
	if p.highWater <= 0 || p.highWater <= p.lowWater {
		p.highWater = DefaultHighWatermark
	}
	return p
}

// Process runs every request in the job and fills job.Results in request
// order. It returns an error only for malformed jobs; per-request failures
// land in the corresponding Result.
func (p *Processor) Process(ctx context.Context, job *content.BatchJob) error {
	if len(job.Requests) == 0 {
		return fmt.Errorf("batch job %s has no requests", job.ID)
	}
	mode := job.Mode
	if mode == "" {
		mode = content.ModeSequential
	}
	limit := job.MaxConcurrent
	if limit <= 0 || limit > p.maxConcurrent {
		limit = p.maxConcurrent
	}

	job.Status = content.BatchRunning
	started := time.Now()
	results := make([]content.Result, len(job.Requests))

	var err error
	switch mode {
	case content.ModeSequential:
		err = p.runSequential(ctx, job.Requests, results)
	case content.ModeConcurrent:
		err = p.runConcurrent(ctx, job.Requests, results, limit, mode)
	case content.ModeAdaptive:
		err = p.runAdaptive(ctx, job.Requests, results, limit, mode)
	default:
		return fmt.Errorf("batch job %s: unknown processing mode %q", job.ID, mode)
	}
	if err != nil {
		return err
	}

	job.Results = results
	job.Status = batchStatus(results)
	now := time.Now()
	job.CompletedAt = &now

	if p.jobsTotal != nil {
		p.jobsTotal.WithLabelValues(string(mode), string(job.Status)).Inc()
	}
	if p.duration != nil {
		p.duration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
	}
	p.logger.WithFields(logging.Fields{
		"batch_id":    job.ID,
		"mode":        mode,
		"requests":    len(job.Requests),
		"status":      job.Status,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("Batch job finished")
	return nil
}

func (p *Processor) runSequential(ctx context.Context, reqs []content.Request, results []content.Result) error {
	for i, req := range reqs {
		if ctx.Err() != nil {
			fillCancelled(reqs, results, i)
			return nil
		}
		results[i] = p.generator.Generate(ctx, req)
	}
	return nil
}

// runConcurrent drains an index channel with a fixed pool of workers, so
// completion order never affects result placement.
func (p *Processor) runConcurrent(ctx context.Context, reqs []content.Request, results []content.Result, workers int, mode content.ProcessingMode) error {
	if workers > len(reqs) {
		workers = len(reqs)
	}
	// Each index is claimed by exactly one worker, so the filled slice needs
	// no locking.
	filled := make([]bool, len(reqs))
	indexes := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(indexes)
		for i := range reqs {
			select {
			case indexes <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			p.trackWorker(mode, 1)
			defer p.trackWorker(mode, -1)
			for i := range indexes {
				results[i] = p.generator.Generate(gctx, reqs[i])
				filled[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fillSkipped(reqs, results, filled)
	return nil
}

// runAdaptive dispatches through a controller that widens the pool while the
// rolling error rate stays under the low watermark and narrows it once the
// rate crosses the high one. Effective concurrency stays in [1, limit].
func (p *Processor) runAdaptive(ctx context.Context, reqs []content.Request, results []content.Result, limit int, mode content.ProcessingMode) error {
	ctl := newController(limit, p.lowWater, p.highWater)
	filled := make([]bool, len(reqs))

	type outcome struct {
		index  int
		failed bool
	}
	done := make(chan outcome)

	var wg sync.WaitGroup
	next := 0
	inFlight := 0
	for next < len(reqs) || inFlight > 0 {
		for next < len(reqs) && inFlight < ctl.limit() && ctx.Err() == nil {
			i := next
			next++
			inFlight++
			wg.Add(1)
			p.trackWorker(mode, 1)
			go func() {
				defer wg.Done()
				defer p.trackWorker(mode, -1)
				results[i] = p.generator.Generate(ctx, reqs[i])
				filled[i] = true
				done <- outcome{index: i, failed: !results[i].Passed()}
			}()
		}
		if inFlight == 0 {
			break
		}
		o := <-done
		inFlight--
		ctl.observe(o.failed)
	}
	wg.Wait()
	fillSkipped(reqs, results, filled)
	return nil
}

func (p *Processor) trackWorker(mode content.ProcessingMode, delta float64) {
	if p.workersActive != nil {
		p.workersActive.WithLabelValues(string(mode)).Add(delta)
	}
}

// controller holds the adaptive concurrency state. Single-goroutine use from
// the dispatch loop; no locking needed.
type controller struct {
	current   int
	max       int
	lowWater  float64
	highWater float64
	window    []bool
}

func newController(max int, low, high float64) *controller {
	// Start cautiously and let clean outcomes earn the wider pool.
	start := 2
	if max < start {
		start = max
	}
	return &controller{
		current:   start,
		max:       max,
		lowWater:  low,
		highWater: high,
	}
}

func (c *controller) limit() int {
	return c.current
}

func (c *controller) observe(failed bool) {
	c.window = append(c.window, failed)
	if len(c.window) > adaptiveWindow {
		c.window = c.window[1:]
	}
	failures := 0
	for _, f := range c.window {
		if f {
			failures++
		}
	}
	rate := float64(failures) / float64(len(c.window))
	switch {
	case rate >= c.highWater && c.current > 1:
		c.current--
	case rate <= c.lowWater && c.current < c.max:
		c.current++
	}
}

// fillCancelled marks every request from index from onward as cancelled.
func fillCancelled(reqs []content.Request, results []content.Result, from int) {
	for i := from; i < len(reqs); i++ {
		results[i] = content.Result{
			RequestID: reqs[i].ID,
			ErrorKind: content.KindCancelled,
			Error:     "batch cancelled before this request ran",
		}
	}
}

// fillSkipped marks any slot a worker never reached, which happens when the
// context is cancelled mid-batch. Skipped slots are identified by the filled
// flags the workers set, never by result field values, so a legitimate result
// for an ID-less request is left alone.
func fillSkipped(reqs []content.Request, results []content.Result, filled []bool) {
	for i := range results {
		if !filled[i] {
			results[i] = content.Result{
				RequestID: reqs[i].ID,
				ErrorKind: content.KindCancelled,
				Error:     "batch cancelled before this request ran",
			}
		}
	}
}

func batchStatus(results []content.Result) content.BatchStatus {
	for _, r := range results {
		if !r.Passed() {
			return content.BatchPartialFailure
		}
	}
	return content.BatchCompleted
}
