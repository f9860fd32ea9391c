package telemetry

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/pkg/kafka"
)

func newTestTracker() *Tracker {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewTracker(Config{
		Source:      "test",
		Logger:      logger,
		CostPerCall: map[string]float64{"openai-main": 2.5},
	})
}

func TestRecordAttemptAggregates(t *testing.T) {
	tr := newTestTracker()

	tr.RecordAttempt("openai-main", content.TypeArticle, "r1", 1, 800*time.Millisecond, nil)
	tr.RecordAttempt("openai-main", content.TypeArticle, "r2", 1, 400*time.Millisecond, nil)
	tr.RecordAttempt("openai-main", content.TypeArticle, "r3", 1, 0,
		content.NewError(content.KindRateLimited, "openai-main", errors.New("429")))

	stats := tr.Snapshot()
	require.Contains(t, stats, "openai-main")
	got := stats["openai-main"]

	assert.Equal(t, uint64(3), got.Calls)
	assert.Equal(t, uint64(2), got.Successes)
	assert.InDelta(t, 2.0/3.0, got.SuccessRate, 0.001)
	assert.InDelta(t, 7.5, got.TotalCostUnits, 0.001)
	assert.Equal(t, uint64(1), got.Failures[string(content.KindRateLimited)])

	// The latency average moves toward the newer observation.
	assert.Less(t, got.AvgLatencyMS, int64(800))
	assert.Greater(t, got.AvgLatencyMS, int64(400))
}

func TestRecordAttemptUnknownProviderCostsNothing(t *testing.T) {
	tr := newTestTracker()

	tr.RecordAttempt("mystery", content.TypeDigest, "r1", 1, time.Second, nil)

	stats := tr.Snapshot()
	assert.Zero(t, stats["mystery"].TotalCostUnits)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := newTestTracker()
	tr.RecordAttempt("openai-main", content.TypeArticle, "r1", 1, time.Second, nil)

	first := tr.Snapshot()
	first["openai-main"] = ProviderStats{}

	second := tr.Snapshot()
	assert.Equal(t, uint64(1), second["openai-main"].Calls)
}

// capturePublisher records events and can be parked on a gate to simulate a
// slow broker.
type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.TelemetryEvent
	gate   chan struct{}
}

func (p *capturePublisher) PublishEvent(event *kafka.TelemetryEvent) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestRecordAttemptExportsThroughSingleDrain(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	pub := &capturePublisher{}
	tr := NewTracker(Config{Source: "test", Logger: logger, Publisher: pub})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordAttempt("openai-main", content.TypeArticle, "r", 1, time.Millisecond, nil)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return pub.count() == 32
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "test", pub.events[0].Source)
}

func TestRecordAttemptNeverBlocksOnSlowPublisher(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	pub := &capturePublisher{gate: make(chan struct{})}
	tr := NewTracker(Config{Source: "test", Logger: logger, Publisher: pub})

	// Overfill the export queue while the publisher is stuck; every call must
	// return promptly, dropping overflow instead of stalling the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < publishBuffer*2; i++ {
			tr.RecordAttempt("openai-main", content.TypeArticle, "r", 1, time.Millisecond, nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAttempt blocked on a slow publisher")
	}
	close(pub.gate)

	stats := tr.Snapshot()
	assert.Equal(t, uint64(publishBuffer*2), stats["openai-main"].Calls)
}

func TestSetAvailabilityWithoutMetricsIsSafe(t *testing.T) {
	tr := newTestTracker()
	assert.NotPanics(t, func() {
		tr.SetAvailability("openai-main", "degraded")
	})
}
