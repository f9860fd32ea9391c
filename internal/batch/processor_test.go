package batch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquascene/scribe/internal/content"
)

// stubGenerator echoes the request id back and fails requests whose id
// carries a "fail" marker.
type stubGenerator struct {
	delay      time.Duration
	inFlight   int32
	maxSeen    int32
	totalCalls int32
}

func (g *stubGenerator) Generate(ctx context.Context, req content.Request) content.Result {
	cur := atomic.AddInt32(&g.inFlight, 1)
	defer atomic.AddInt32(&g.inFlight, -1)
	atomic.AddInt32(&g.totalCalls, 1)
	for {
		max := atomic.LoadInt32(&g.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&g.maxSeen, max, cur) {
			break
		}
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return content.Result{RequestID: req.ID, ErrorKind: content.KindCancelled}
		}
	}
	if strings.Contains(req.ID, "fail") {
		return content.Result{
			RequestID: req.ID,
			ErrorKind: content.KindAllProvidersExhausted,
			Error:     "no provider produced an acceptable draft",
		}
	}
	passed := content.Score{Aggregate: 0.9, Passed: true}
	return content.Result{
		RequestID:  req.ID,
		ProviderID: "stub",
		Draft:      &content.Draft{RequestID: req.ID, RawText: "ok"},
		Score:      &passed,
		Attempts:   1,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func makeJob(mode content.ProcessingMode, ids ...string) *content.BatchJob {
	reqs := make([]content.Request, len(ids))
	for i, id := range ids {
		reqs[i] = content.Request{ID: id, ContentType: content.TypeSocialCaption, Topic: "trim day"}
	}
	return &content.BatchJob{ID: "job-1", Requests: reqs, Mode: mode}
}

func requestIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("req-%02d", i)
	}
	return ids
}

func TestProcessRejectsEmptyJob(t *testing.T) {
	p := NewProcessor(Config{Generator: &stubGenerator{}, Logger: testLogger()})
	err := p.Process(context.Background(), &content.BatchJob{ID: "empty"})
	assert.Error(t, err)
}

func TestProcessRejectsUnknownMode(t *testing.T) {
	p := NewProcessor(Config{Generator: &stubGenerator{}, Logger: testLogger()})
	job := makeJob("turbo", "req-0")
	assert.Error(t, p.Process(context.Background(), job))
}

func TestProcessPreservesOrderAcrossModes(t *testing.T) {
	for _, mode := range []content.ProcessingMode{content.ModeSequential, content.ModeConcurrent, content.ModeAdaptive} {
		t.Run(string(mode), func(t *testing.T) {
			gen := &stubGenerator{delay: time.Millisecond}
			p := NewProcessor(Config{Generator: gen, Logger: testLogger(), MaxConcurrent: 3})

			ids := requestIDs(9)
			job := makeJob(mode, ids...)
			require.NoError(t, p.Process(context.Background(), job))

			require.Len(t, job.Results, len(ids))
			for i, id := range ids {
				assert.Equal(t, id, job.Results[i].RequestID)
			}
			assert.Equal(t, content.BatchCompleted, job.Status)
			require.NotNil(t, job.CompletedAt)
		})
	}
}

func TestProcessSequentialRunsOneAtATime(t *testing.T) {
	gen := &stubGenerator{delay: time.Millisecond}
	p := NewProcessor(Config{Generator: gen, Logger: testLogger(), MaxConcurrent: 8})

	job := makeJob(content.ModeSequential, requestIDs(5)...)
	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, int32(1), gen.maxSeen)
}

func TestProcessConcurrentHonorsLimit(t *testing.T) {
	gen := &stubGenerator{delay: 5 * time.Millisecond}
	p := NewProcessor(Config{Generator: gen, Logger: testLogger(), MaxConcurrent: 2})

	job := makeJob(content.ModeConcurrent, requestIDs(6)...)
	require.NoError(t, p.Process(context.Background(), job))
	assert.LessOrEqual(t, gen.maxSeen, int32(2))
	assert.Equal(t, int32(6), gen.totalCalls)
}

func TestProcessPartialFailure(t *testing.T) {
	gen := &stubGenerator{}
	p := NewProcessor(Config{Generator: gen, Logger: testLogger(), MaxConcurrent: 2})

	job := makeJob(content.ModeConcurrent, "req-0", "req-1-fail", "req-2", "req-3", "req-4")
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, content.BatchPartialFailure, job.Status)
	assert.Equal(t, content.KindAllProvidersExhausted, job.Results[1].ErrorKind)
	// The failing request never blocks its neighbors.
	assert.True(t, job.Results[0].Passed())
	assert.True(t, job.Results[4].Passed())
}

func TestProcessKeepsResultsForIDLessRequests(t *testing.T) {
	// A successful result for a request without an id must survive as-is; it
	// must never be mistaken for an unreached slot and rewritten as cancelled.
	for _, mode := range []content.ProcessingMode{content.ModeConcurrent, content.ModeAdaptive} {
		t.Run(string(mode), func(t *testing.T) {
			gen := &stubGenerator{}
			p := NewProcessor(Config{Generator: gen, Logger: testLogger(), MaxConcurrent: 2})

			job := makeJob(mode, "", "req-1")
			require.NoError(t, p.Process(context.Background(), job))

			require.Len(t, job.Results, 2)
			assert.True(t, job.Results[0].Passed())
			assert.Empty(t, job.Results[0].ErrorKind)
			assert.Equal(t, content.BatchCompleted, job.Status)
		})
	}
}

func TestProcessAdaptiveStaysWithinBounds(t *testing.T) {
	gen := &stubGenerator{delay: time.Millisecond}
	p := NewProcessor(Config{
		Generator:     gen,
		Logger:        testLogger(),
		MaxConcurrent: 4,
		LowWatermark:  0.1,
		HighWatermark: 0.5,
	})

	job := makeJob(content.ModeAdaptive, requestIDs(20)...)
	require.NoError(t, p.Process(context.Background(), job))
	assert.LessOrEqual(t, gen.maxSeen, int32(4))
	assert.Equal(t, content.BatchCompleted, job.Status)
}

func TestProcessSequentialCancellation(t *testing.T) {
	gen := &stubGenerator{delay: 2 * time.Millisecond}
	p := NewProcessor(Config{Generator: gen, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	job := makeJob(content.ModeSequential, requestIDs(50)...)
	require.NoError(t, p.Process(ctx, job))
	wg.Wait()

	// Requests after the cancellation point carry the cancelled kind, and
	// every slot is filled either way.
	require.Len(t, job.Results, 50)
	assert.Equal(t, content.BatchPartialFailure, job.Status)
	sawCancelled := false
	for _, r := range job.Results {
		if r.ErrorKind == content.KindCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
}

func TestControllerAdjustsConcurrency(t *testing.T) {
	ctl := newController(4, 0.1, 0.5)
	assert.Equal(t, 2, ctl.limit())

	// Clean outcomes grow the pool to the cap.
	for i := 0; i < 10; i++ {
		ctl.observe(false)
	}
	assert.Equal(t, 4, ctl.limit())

	// Sustained failures shrink it back to one.
	for i := 0; i < 10; i++ {
		ctl.observe(true)
	}
	assert.Equal(t, 1, ctl.limit())
}
