package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetter is a task moved out of its stream after too many deliveries.
type DeadLetter struct {
	ID                string    `json:"id"`
	JobID             string    `json:"job_id"`
	OriginalQueue     string    `json:"original_queue"`
	OriginalMessageID string    `json:"original_message_id"`
	Reason            string    `json:"reason"`
	WorkerID          string    `json:"worker_id"`
	MovedAt           time.Time `json:"moved_at"`
	Payload           string    `json:"payload,omitempty"`
}

// DLQName maps a stream to its dead-letter stream, preserving the suffix:
// jobs:v1:extract -> dlq:v1:extract.
func DLQName(stream string) string {
	if rest, ok := strings.CutPrefix(stream, "jobs:v1:"); ok {
		return "dlq:v1:" + rest
	}
	parts := strings.Split(stream, ":")
	return "dlq:v1:" + parts[len(parts)-1]
}

// MoveToDLQ copies m to the dead-letter stream and acknowledges the original.
func (c *Client) MoveToDLQ(ctx context.Context, m *Message, reason string) error {
	jobID := m.Task.JobID
	if jobID == "" {
		jobID, _ = m.RawData["jobId"].(string)
	}
	fields := map[string]any{
		"original_message_id": m.MessageID,
		"original_queue":      m.Stream,
		"reason":              reason,
		"moved_at":            time.Now().UTC().Format(time.RFC3339),
		"worker_id":           c.workerID,
		"jobId":               jobID,
	}
	if p, ok := m.RawData["payload"].(string); ok {
		fields["payload"] = p
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: DLQName(m.Stream), Values: fields})
		pipe.XAck(ctx, m.Stream, c.group, m.MessageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move %s to dlq: %w", m.MessageID, err)
	}
	return nil
}

// ListDLQ returns up to n dead letters for stream, newest first.
func (c *Client) ListDLQ(ctx context.Context, stream string, n int64) ([]DeadLetter, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, DLQName(stream), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		str := func(k string) string {
			s, _ := msg.Values[k].(string)
			return s
		}
		movedAt, _ := time.Parse(time.RFC3339, str("moved_at"))
		out = append(out, DeadLetter{
			ID:                msg.ID,
			JobID:             str("jobId"),
			OriginalQueue:     str("original_queue"),
			OriginalMessageID: str("original_message_id"),
			Reason:            str("reason"),
			WorkerID:          str("worker_id"),
			MovedAt:           movedAt,
			Payload:           str("payload"),
		})
	}
	return out, nil
}
