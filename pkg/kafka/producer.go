package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

const telemetryTopic = "content_telemetry"

// TelemetryEvent is one generation attempt as exported to Kafka.
type TelemetryEvent struct {
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	ProviderID  string    `json:"provider_id"`
	ContentType string    `json:"content_type"`
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"` // success | <error kind>
	LatencyMS   int64     `json:"latency_ms"`
	CostUnits   float64   `json:"cost_units"`
	Attempt     int       `json:"attempt"`
	Timestamp   time.Time `json:"timestamp"`
}

// Producer publishes telemetry events to Kafka.
type Producer struct {
	client    *kgo.Client
	logger    *logrus.Logger
	clusterID string
}

// NewProducer creates a new Kafka telemetry producer
func NewProducer(brokers []string, clusterID string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("scribe"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client:    client,
		logger:    logger,
		clusterID: clusterID,
	}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// PublishEvent publishes a single telemetry event
func (p *Producer) PublishEvent(event *TelemetryEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: telemetryTopic,
		Key:   []byte(event.ProviderID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "source", Value: []byte(event.Source)},
			{Key: "content_type", Value: []byte(event.ContentType)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}

	return nil
}

// PublishBatch publishes a batch of telemetry events
func (p *Producer) PublishBatch(events []TelemetryEvent) error {
	if len(events) == 0 {
		return nil // Nothing to publish
	}

	var records []*kgo.Record
	for i := range events {
		event := &events[i]
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
		}

		records = append(records, &kgo.Record{
			Topic: telemetryTopic,
			Key:   []byte(event.ProviderID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "source", Value: []byte(event.Source)},
				{Key: "content_type", Value: []byte(event.ContentType)},
				{Key: "status", Value: []byte(event.Status)},
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce batch: %w", err)
	}

	return nil
}

// HealthCheck pings the Kafka cluster
func (p *Producer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// GetClient returns the underlying kgo.Client for health checks
func (p *Producer) GetClient() *kgo.Client {
	return p.client
}
