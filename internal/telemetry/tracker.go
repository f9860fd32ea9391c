// Package telemetry records per-provider outcomes: counters and latency for
// routing decisions, Prometheus metrics for operators, and an optional Kafka
// export of raw attempt events.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/internal/registry"
	"aquascene/scribe/pkg/kafka"
	"aquascene/scribe/pkg/logging"
	"aquascene/scribe/pkg/monitoring"
)

const (
	latencyAlpha = 0.3

	// publishBuffer bounds the queue of telemetry events awaiting Kafka
	// export. Events beyond it are dropped, never allowed to stall a call.
	publishBuffer = 256
)

// Publisher exports raw attempt events. Implemented by kafka.Producer.
type Publisher interface {
	PublishEvent(event *kafka.TelemetryEvent) error
}

// ProviderStats is the aggregate view of one provider exposed via /stats.
type ProviderStats struct {
	Calls          uint64                `json:"calls"`
	Successes      uint64                `json:"successes"`
	Failures       map[string]uint64     `json:"failures,omitempty"`
	SuccessRate    float64               `json:"success_rate"`
	AvgLatencyMS   int64                 `json:"avg_latency_ms"`
	TotalCostUnits float64               `json:"total_cost_units"`
	Availability   registry.Availability `json:"availability,omitempty"`
}

type providerStats struct {
	calls     uint64
	successes uint64
	failures  map[content.ErrorKind]uint64
	latency   time.Duration // EWMA
	cost      float64
}

// Config configures a Tracker.
type Config struct {
	Source    string
	Logger    logging.Logger
	Metrics   *monitoring.MetricsCollector
	Publisher Publisher // optional
	// CostPerCall maps provider id to the estimated cost of one call.
	CostPerCall map[string]float64
}

// Tracker aggregates provider call outcomes. All updates go through a single
// mutex per tracker; concurrent batch workers share one instance.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]*providerStats

	source    string
	logger    logging.Logger
	publisher Publisher
	events    chan kafka.TelemetryEvent
	cost      map[string]float64

	attemptsTotal *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	costTotal     *prometheus.CounterVec
	availability  *prometheus.GaugeVec
}

// NewTracker creates a tracker. Metrics may be nil in tests.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		stats:     make(map[string]*providerStats),
		source:    cfg.Source,
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		cost:      cfg.CostPerCall,
	}
	if t.cost == nil {
		t.cost = map[string]float64{}
	}
	if cfg.Metrics != nil {
		t.attemptsTotal, t.callDuration, t.costTotal, t.availability = cfg.Metrics.CreateGenerationMetrics()
	}
	if t.publisher != nil {
		t.events = make(chan kafka.TelemetryEvent, publishBuffer)
		go t.publishLoop()
	}
	return t
}

// publishLoop is the single goroutine draining queued events into Kafka, so
// concurrent batch workers never fan out one publish goroutine per attempt.
func (t *Tracker) publishLoop() {
	for event := range t.events {
		if err := t.publisher.PublishEvent(&event); err != nil && t.logger != nil {
			t.logger.WithError(err).Warn("Failed to publish telemetry event")
		}
	}
}

// RecordAttempt records the outcome of one provider call. Implements the
// provider adapter's Recorder contract; called for every attempt, success or
// failure.
func (t *Tracker) RecordAttempt(providerID string, contentType content.ContentType, requestID string, attempt int, latency time.Duration, err error) {
	status := "success"
	var kind content.ErrorKind
	if err != nil {
		kind = content.KindOf(err)
		status = string(kind)
	}
	costUnits := t.cost[providerID]

	t.mu.Lock()
	ps, ok := t.stats[providerID]
	if !ok {
		ps = &providerStats{failures: make(map[content.ErrorKind]uint64)}
		t.stats[providerID] = ps
	}
	ps.calls++
	ps.cost += costUnits
	if err == nil {
		ps.successes++
		if ps.latency == 0 {
			ps.latency = latency
		} else {
			ps.latency = time.Duration(latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(ps.latency))
		}
	} else {
		ps.failures[kind]++
	}
	t.mu.Unlock()

	if t.attemptsTotal != nil {
		t.attemptsTotal.WithLabelValues(providerID, string(contentType), status).Inc()
		t.callDuration.WithLabelValues(providerID, string(contentType)).Observe(latency.Seconds())
		if costUnits > 0 {
			t.costTotal.WithLabelValues(providerID).Add(costUnits)
		}
	}

	if t.events != nil {
		event := kafka.TelemetryEvent{
			EventID:     uuid.New().String(),
			Source:      t.source,
			ProviderID:  providerID,
			ContentType: string(contentType),
			RequestID:   requestID,
			Status:      status,
			LatencyMS:   latency.Milliseconds(),
			CostUnits:   costUnits,
			Attempt:     attempt,
			Timestamp:   time.Now().UTC(),
		}
		select {
		case t.events <- event:
		default:
			if t.logger != nil {
				t.logger.WithField("provider_id", providerID).Warn("Telemetry export queue full, event dropped")
			}
		}
	}
}

// SetAvailability keeps the availability gauge current. Wired into the
// registry's state change hook.
func (t *Tracker) SetAvailability(providerID string, state registry.Availability) {
	if t.availability == nil {
		return
	}
	var v float64
	switch state {
	case registry.Available:
		v = 2
	case registry.Degraded:
		v = 1
	default:
		v = 0
	}
	t.availability.WithLabelValues(providerID).Set(v)
}

// Snapshot returns a copy of the per-provider aggregates.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ProviderStats, len(t.stats))
	for id, ps := range t.stats {
		stat := ProviderStats{
			Calls:          ps.calls,
			Successes:      ps.successes,
			AvgLatencyMS:   ps.latency.Milliseconds(),
			TotalCostUnits: ps.cost,
		}
		if ps.calls > 0 {
			stat.SuccessRate = float64(ps.successes) / float64(ps.calls)
		}
		if len(ps.failures) > 0 {
			stat.Failures = make(map[string]uint64, len(ps.failures))
			for kind, n := range ps.failures {
				stat.Failures[string(kind)] = n
			}
		}
		out[id] = stat
	}
	return out
}
