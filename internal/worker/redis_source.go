package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aceteam-ai/paygrid/internal/queue"
	"github.com/aceteam-ai/paygrid/internal/store"
)

// RedisSource implements JobSource for Redis Streams. It consumes from
// several streams at once and takes over deliveries abandoned by crashed
// workers.
type RedisSource struct {
	client *queue.Client
	config RedisSourceConfig

	mu          sync.Mutex
	lastReclaim time.Time
}

// RedisSourceConfig holds configuration for RedisSource.
type RedisSourceConfig struct {
	// URL is the Redis connection URL, used for logging only.
	URL string

	// Streams to consume from, in priority order.
	Streams []string

	// ReclaimEvery is how often idle deliveries are checked for (default 30s).
	ReclaimEvery time.Duration

	// OnDeadLetter is called after a job exhausted its deliveries and was
	// moved to the dead-letter stream.
	OnDeadLetter func(ctx context.Context, job *Job, reason string)

	// LogFn is an optional callback for logging. Defaults to slog.
	LogFn func(level, msg string)
}

// NewRedisSource creates a Redis Streams job source on a queue client.
func NewRedisSource(client *queue.Client, cfg RedisSourceConfig) *RedisSource {
	if len(cfg.Streams) == 0 {
		cfg.Streams = []string{queue.ExtractStream, queue.NormalizeStream}
	}
	if cfg.ReclaimEvery == 0 {
		cfg.ReclaimEvery = 30 * time.Second
	}
	return &RedisSource{client: client, config: cfg}
}

// Name returns the source identifier.
func (s *RedisSource) Name() string {
	return "redis"
}

func (s *RedisSource) log(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.config.LogFn != nil {
		s.config.LogFn(level, msg)
		return
	}
	SlogActivity(slog.Default())(level, msg)
}

// Connect creates the consumer groups.
func (s *RedisSource) Connect(ctx context.Context) error {
	if err := s.client.EnsureGroups(ctx, s.config.Streams); err != nil {
		return fmt.Errorf("failed to create consumer groups: %w", err)
	}

	if s.config.URL != "" {
		s.log("info", "   - Redis: %s", store.MaskURL(s.config.URL))
	}
	s.log("info", "   - Worker ID: %s", s.client.WorkerID())
	s.log("info", "   - Streams: %v", s.config.Streams)
	s.log("info", "   - Consumer group: %s", s.client.Group())
	return nil
}

// Next returns an idle delivery taken over from another consumer if one is
// due, otherwise the next new task.
func (s *RedisSource) Next(ctx context.Context) (*Job, error) {
	if s.reclaimDue() {
		for _, stream := range s.config.Streams {
			m, err := s.client.Reclaim(ctx, stream)
			if err != nil {
				if m != nil {
					return s.deadLetter(ctx, m, fmt.Sprintf("malformed task: %v", err))
				}
				return nil, fmt.Errorf("failed to reclaim from %s: %w", stream, err)
			}
			if m != nil {
				return s.accept(ctx, m, true)
			}
		}
	}

	m, err := s.client.Read(ctx, s.config.Streams)
	if err != nil {
		if m != nil {
			return s.deadLetter(ctx, m, fmt.Sprintf("malformed task: %v", err))
		}
		return nil, fmt.Errorf("failed to read job from Redis: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	return s.accept(ctx, m, false)
}

func (s *RedisSource) reclaimDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastReclaim) < s.config.ReclaimEvery {
		return false
	}
	s.lastReclaim = time.Now()
	return true
}

func (s *RedisSource) accept(ctx context.Context, m *queue.Message, reclaimed bool) (*Job, error) {
	count, err := s.client.DeliveryCount(ctx, m.Stream, m.MessageID)
	if err != nil {
		return nil, fmt.Errorf("delivery count for %s: %w", m.MessageID, err)
	}
	if int(count) > s.client.MaxAttempts() {
		s.log("warning", "   - Job %s exceeded max attempts (%d), moving to DLQ",
			m.Task.JobID, s.client.MaxAttempts())
		return s.deadLetter(ctx, m, "Exceeded max retry attempts")
	}

	job := convertJob(m)
	job.Metadata = JobMetadata{
		Attempts:    int(count),
		MaxAttempts: s.client.MaxAttempts(),
		Reclaimed:   reclaimed,
	}
	return job, nil
}

func (s *RedisSource) deadLetter(ctx context.Context, m *queue.Message, reason string) (*Job, error) {
	if err := s.client.MoveToDLQ(ctx, m, reason); err != nil {
		s.log("error", "   - Failed to move job to DLQ: %v", err)
		return nil, nil
	}
	job := convertJob(m)
	if job.ID == "" {
		job.ID, _ = m.RawData["jobId"].(string)
	}
	if s.config.OnDeadLetter != nil && job.ID != "" {
		s.config.OnDeadLetter(ctx, job, reason)
	}
	return nil, nil
}

func convertJob(m *queue.Message) *Job {
	return &Job{
		ID:          m.Task.JobID,
		Type:        m.Task.Type,
		Task:        m.Task,
		Source:      "redis",
		MessageID:   m.MessageID,
		SourceQueue: m.Stream,
	}
}

// Ack acknowledges job completion.
func (s *RedisSource) Ack(ctx context.Context, job *Job) error {
	return s.client.Ack(ctx, job.SourceQueue, job.MessageID)
}

// Nack does NOT ack, so the delivery stays pending until it is reclaimed
// or dead-lettered.
func (s *RedisSource) Nack(ctx context.Context, job *Job, err error) error {
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (s *RedisSource) Close() error {
	return nil
}

// Streams returns the streams being consumed.
func (s *RedisSource) Streams() []string {
	return s.config.Streams
}

var _ JobSource = (*RedisSource)(nil)
