package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/queue"
)

func setupSource(t *testing.T, cfg RedisSourceConfig) (*miniredis.Miniredis, *queue.Client, *RedisSource) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	client := queue.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), queue.Config{
		ConsumerGroup: "test-workers",
		Block:         50 * time.Millisecond,
		MaxAttempts:   3,
	})
	t.Cleanup(func() { client.Close() })

	if cfg.LogFn == nil {
		cfg.LogFn = func(level, msg string) {}
	}
	src := NewRedisSource(client, cfg)
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return mr, client, src
}

func TestNewRedisSourceDefaults(t *testing.T) {
	src := NewRedisSource(nil, RedisSourceConfig{})
	want := []string{queue.ExtractStream, queue.NormalizeStream}
	if got := src.Streams(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Streams() = %v, want %v", got, want)
	}
	if src.config.ReclaimEvery != 30*time.Second {
		t.Errorf("ReclaimEvery = %v, want 30s", src.config.ReclaimEvery)
	}
	if src.Name() != "redis" {
		t.Errorf("Name() = %q", src.Name())
	}
}

func TestRedisSourceNextAndAck(t *testing.T) {
	_, client, src := setupSource(t, RedisSourceConfig{})
	ctx := context.Background()

	client.Enqueue(ctx, queue.NormalizeStream, queue.NormalizeTask("n1"))

	job, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if job == nil {
		t.Fatal("Next returned nil job")
	}
	if job.ID != "n1" || job.Type != JobTypeNormalize || job.SourceQueue != queue.NormalizeStream {
		t.Errorf("job = %+v", job)
	}
	if job.Metadata.Attempts != 1 || job.Metadata.MaxAttempts != 3 || job.Metadata.Reclaimed {
		t.Errorf("metadata = %+v", job.Metadata)
	}

	if err := src.Ack(ctx, job); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if n, _ := client.DeliveryCount(ctx, job.SourceQueue, job.MessageID); n != 0 {
		t.Errorf("delivery still pending after ack (count %d)", n)
	}
}

func TestRedisSourceDeadLettersMalformedTask(t *testing.T) {
	var dead []string
	mr, client, src := setupSource(t, RedisSourceConfig{
		OnDeadLetter: func(ctx context.Context, job *Job, reason string) {
			dead = append(dead, job.ID)
		},
	})
	ctx := context.Background()

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer raw.Close()
	raw.XAdd(ctx, &goredis.XAddArgs{
		Stream: queue.ExtractStream,
		Values: map[string]any{"jobId": "job-x", "type": "extract", "payload": `{"job_id":"job-x","type":"extract"}`},
	})

	job, err := src.Next(ctx)
	if err != nil || job != nil {
		t.Fatalf("Next() = %v, %v, want nil, nil", job, err)
	}

	letters, err := client.ListDLQ(ctx, queue.ExtractStream, 10)
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(letters) != 1 || letters[0].JobID != "job-x" {
		t.Errorf("ListDLQ() = %+v, want job-x", letters)
	}
	if len(dead) != 1 || dead[0] != "job-x" {
		t.Errorf("OnDeadLetter jobs = %v, want [job-x]", dead)
	}
}

func TestRedisSourceReclaimsIdleDelivery(t *testing.T) {
	mr, client, _ := setupSource(t, RedisSourceConfig{})
	ctx := context.Background()

	client.Enqueue(ctx, queue.ExtractStream, queue.ExtractTask("job-1", "D1", "s3://b/k"))
	first, _ := client.Read(ctx, []string{queue.ExtractStream})
	if first == nil {
		t.Fatal("Read returned nil")
	}

	// a second worker picks up the abandoned delivery
	other := queue.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), queue.Config{
		ConsumerGroup: "test-workers",
		WorkerID:      "w-2",
		Block:         50 * time.Millisecond,
		ClaimIdle:     time.Millisecond,
	})
	defer other.Close()
	src := NewRedisSource(other, RedisSourceConfig{LogFn: func(level, msg string) {}})

	time.Sleep(20 * time.Millisecond)
	job, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if job == nil || job.ID != "job-1" || !job.Metadata.Reclaimed {
		t.Fatalf("Next() = %+v, want reclaimed job-1", job)
	}
	if job.Task.DistrictID != "D1" {
		t.Errorf("Task = %+v", job.Task)
	}
}
