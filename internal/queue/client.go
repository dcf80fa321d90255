// Package queue provides the Redis Streams task queue that carries
// extraction and normalization work from the API to the workers.
//
// Tasks are consumed through a consumer group. A task that is not
// acknowledged stays pending and is claimed again by any worker once it
// has been idle for the claim window; after the configured number of
// deliveries it is moved to a dead-letter stream instead.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/apperr"
)

// Stream names.
const (
	ExtractStream   = "jobs:v1:extract"
	NormalizeStream = "jobs:v1:normalize"
)

// DefaultGroup is the consumer group used when none is configured.
const DefaultGroup = "paygrid-workers"

// Message is a task read from a stream.
type Message struct {
	MessageID string
	Stream    string
	Task      Task
	RawData   map[string]any
}

// Client wraps the stream operations for one consumer.
type Client struct {
	rdb         *redis.Client
	workerID    string
	group       string
	block       time.Duration
	maxAttempts int
	claimIdle   time.Duration
}

// Config holds queue settings.
type Config struct {
	ConsumerGroup string
	WorkerID      string
	Block         time.Duration
	MaxAttempts   int
	// ClaimIdle is how long a delivery may stay unacknowledged before
	// another consumer claims it.
	ClaimIdle time.Duration
}

// NewClient creates a queue client on an existing connection.
func NewClient(rdb *redis.Client, cfg Config) *Client {
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = DefaultGroup
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("paygrid-%s", uuid.New().String()[:8])
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClaimIdle == 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	return &Client{
		rdb:         rdb,
		workerID:    cfg.WorkerID,
		group:       cfg.ConsumerGroup,
		block:       cfg.Block,
		maxAttempts: cfg.MaxAttempts,
		claimIdle:   cfg.ClaimIdle,
	}
}

// Enqueue validates t and appends it to stream.
func (c *Client) Enqueue(ctx context.Context, stream string, t Task) (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := ValidateTask(payload); err != nil {
		return "", err
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"jobId":   t.JobID,
			"type":    t.Type,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return "", apperr.Queue(err, "enqueue %s task for job %s", t.Type, t.JobID)
	}
	return id, nil
}

// EnsureGroups creates the consumer group on each stream if it doesn't exist.
func (c *Client) EnsureGroups(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group for %s: %w", stream, err)
		}
	}
	return nil
}

// Read returns the next new task from any of streams, or nil when none
// arrives within the block timeout.
func (c *Client) Read(ctx context.Context, streams []string) (*Message, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams specified")
	}

	// [s1, s2, ..., ">", ">", ...]
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.workerID,
		Streams:  args,
		Count:    1,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from streams: %w", err)
	}

	for _, s := range res {
		if len(s.Messages) > 0 {
			return parseMessage(s.Stream, s.Messages[0])
		}
	}
	return nil, nil
}

// Reclaim takes over one delivery on stream that has been pending longer
// than the claim window, or returns nil when there is none.
func (c *Client) Reclaim(ctx context.Context, stream string) (*Message, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.workerID,
		MinIdle:  c.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reclaim from %s: %w", stream, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return parseMessage(stream, msgs[0])
}

// Ack acknowledges a message.
func (c *Client) Ack(ctx context.Context, stream, messageID string) error {
	return c.rdb.XAck(ctx, stream, c.group, messageID).Err()
}

// DeliveryCount returns how many times a pending message has been delivered.
func (c *Client) DeliveryCount(ctx context.Context, stream, messageID string) (int64, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) > 0 {
		return pending[0].RetryCount, nil
	}
	return 0, nil
}

func parseMessage(stream string, msg redis.XMessage) (*Message, error) {
	m := &Message{
		MessageID: msg.ID,
		Stream:    stream,
		RawData:   make(map[string]any, len(msg.Values)),
	}
	for k, v := range msg.Values {
		m.RawData[k] = v
	}

	payload, _ := msg.Values["payload"].(string)
	if payload == "" {
		return m, fmt.Errorf("message %s on %s has no payload", msg.ID, stream)
	}
	if err := ValidateTask([]byte(payload)); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(payload), &m.Task); err != nil {
		return m, fmt.Errorf("parse task payload: %w", err)
	}
	return m, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// WorkerID returns the consumer name.
func (c *Client) WorkerID() string { return c.workerID }

// Group returns the consumer group name.
func (c *Client) Group() string { return c.group }

// MaxAttempts returns the delivery count after which a task is dead-lettered.
func (c *Client) MaxAttempts() int { return c.maxAttempts }
