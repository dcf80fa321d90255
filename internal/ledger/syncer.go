package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActivityStream is the Redis stream ledger entries are published to.
const ActivityStream = "activity:v1"

// PublishFunc sends a batch of entries to an external system.
// It should return an error if the publish fails.
type PublishFunc func(ctx context.Context, entries []Entry) error

// StreamPublisher appends entries to a capped Redis stream in one pipeline.
func StreamPublisher(rdb *redis.Client, stream string, maxLen int64) PublishFunc {
	if stream == "" {
		stream = ActivityStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return func(ctx context.Context, entries []Entry) error {
		_, err := rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range entries {
				raw, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("encode entry %d: %w", e.ID, err)
				}
				pipe.XAdd(ctx, &redis.XAddArgs{
					Stream: stream,
					MaxLen: maxLen,
					Approx: true,
					Values: map[string]any{"kind": string(e.Kind), "jobId": e.JobID, "entry": string(raw)},
				})
			}
			return nil
		})
		return err
	}
}

// SyncerConfig holds configuration for the background syncer.
type SyncerConfig struct {
	// Store is the local ledger
	Store *Store

	// PublishFn sends entries to the external system
	PublishFn PublishFunc

	// Interval between sync cycles (default: 60s)
	Interval time.Duration

	// BatchSize is the max entries per sync cycle (default: 50)
	BatchSize int

	// LogFn is called for log messages (optional)
	LogFn func(level, msg string)
}

// Syncer periodically publishes unsynced ledger entries.
type Syncer struct {
	store     *Store
	publishFn PublishFunc
	interval  time.Duration
	batchSize int
	logFn     func(level, msg string)
}

// NewSyncer creates a new ledger syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	interval := cfg.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 50
	}
	return &Syncer{
		store:     cfg.Store,
		publishFn: cfg.PublishFn,
		interval:  interval,
		batchSize: batchSize,
		logFn:     cfg.LogFn,
	}
}

// Start runs the sync loop until the context is cancelled.
func (s *Syncer) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce performs a single sync cycle.
func (s *Syncer) SyncOnce(ctx context.Context) {
	entries, err := s.store.QueryUnsynced(s.batchSize)
	if err != nil {
		s.log("warning", fmt.Sprintf("ledger sync: query failed: %v", err))
		return
	}
	if len(entries) == 0 {
		return
	}

	if err := s.publishFn(ctx, entries); err != nil {
		s.log("warning", fmt.Sprintf("ledger sync: publish failed (%d entries): %v", len(entries), err))
		return
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := s.store.MarkSynced(ids); err != nil {
		s.log("warning", fmt.Sprintf("ledger sync: mark synced failed: %v", err))
		return
	}
	s.log("info", fmt.Sprintf("ledger sync: published %d entries", len(entries)))
}

func (s *Syncer) log(level, msg string) {
	if s.logFn != nil {
		s.logFn(level, msg)
	}
}
