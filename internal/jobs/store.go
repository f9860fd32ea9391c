// Package jobs persists async batch jobs in Redis so callers can poll them
// after the submitting request has returned.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/pkg/logging"
)

const (
	keyPrefix = "scribe:jobs:"

	// DefaultTTL keeps finished jobs around long enough for overnight
	// batches to be collected the next day.
	DefaultTTL = 24 * time.Hour
)

// ErrNotFound is returned when a job id has no record, either because it
// never existed or its TTL expired.
var ErrNotFound = errors.New("batch job not found")

// Store reads and writes batch jobs in Redis.
type Store struct {
	client goredis.UniversalClient
	logger logging.Logger
	ttl    time.Duration
}

// NewStore creates a job store. A zero ttl falls back to DefaultTTL.
func NewStore(client goredis.UniversalClient, logger logging.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Put writes the job under its id, refreshing the TTL.
func (s *Store) Put(ctx context.Context, job *content.BatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal batch job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+job.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store batch job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, id string) (*content.BatchJob, error) {
	payload, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load batch job %s: %w", id, err)
	}
	var job content.BatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode batch job %s: %w", id, err)
	}
	return &job, nil
}

// SetStatus updates just the status field of a stored job. Used to flip a
// job to running before the processor starts chewing on it.
func (s *Store) SetStatus(ctx context.Context, id string, status content.BatchStatus) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	job.Status = status
	return s.Put(ctx, job)
}
