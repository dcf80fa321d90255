package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner orchestrates job processing from a source through handlers.
type Runner struct {
	source   JobSource
	handlers []JobHandler
	config   RunnerConfig

	activityFn  func(level, msg string)
	jobRecordFn func(record Record)
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerID identifies this worker instance
	WorkerID string

	// Concurrency is the number of processing loops sharing the source.
	Concurrency int

	// ActivityFn is called for log messages. Defaults to slog.Default().
	ActivityFn func(level, msg string)

	// JobRecordFn is called when a job finishes, whatever the outcome.
	JobRecordFn func(record Record)
}

// Record summarizes one processed delivery.
type Record struct {
	JobID        string
	JobType      string
	Status       string
	Attempt      int
	StartedAt    time.Time
	CompletedAt  time.Time
	DurationMs   int64
	ErrorMessage string
}

// NewRunner creates a new job runner.
func NewRunner(source JobSource, handlers []JobHandler, config RunnerConfig) *Runner {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	activity := config.ActivityFn
	if activity == nil {
		activity = SlogActivity(slog.Default())
	}
	return &Runner{
		source:      source,
		handlers:    handlers,
		config:      config,
		activityFn:  activity,
		jobRecordFn: config.JobRecordFn,
	}
}

// SlogActivity bridges the activity callback onto a structured logger.
func SlogActivity(log *slog.Logger) func(level, msg string) {
	return func(level, msg string) {
		switch level {
		case "error":
			log.Error(msg)
		case "warning":
			log.Warn(msg)
		case "debug":
			log.Debug(msg)
		default:
			log.Info(msg)
		}
	}
}

func (r *Runner) log(level, format string, args ...any) {
	r.activityFn(level, fmt.Sprintf(format, args...))
}

func (r *Runner) recordJob(record Record) {
	if r.jobRecordFn != nil {
		r.jobRecordFn(record)
	}
}

// Run starts the processing loops and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log("info", "Starting worker %s (%s)", r.config.WorkerID, r.source.Name())
	if err := r.source.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", r.source.Name(), err)
	}
	defer r.source.Close()

	r.log("success", "Worker started with %d handler(s) and %d loop(s), listening for jobs...",
		len(r.handlers), r.config.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.config.Concurrency; i++ {
		g.Go(func() error {
			r.loop(ctx)
			return nil
		})
	}
	err := g.Wait()

	r.log("info", "Worker shutdown complete")
	return err
}

func (r *Runner) loop(ctx context.Context) {
	// Exponential backoff on fetch errors
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log("warning", "Error fetching job: %v (retry in %s)", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second

		if job == nil {
			continue
		}

		r.processJob(ctx, job)
	}
}

// processJob dispatches a job to the appropriate handler.
func (r *Runner) processJob(ctx context.Context, job *Job) {
	r.log("info", "Received job %s (type: %s, attempt %d)", job.ID, job.Type, job.Metadata.Attempts)
	startTime := time.Now()

	var handler JobHandler
	for _, h := range r.handlers {
		if h.CanHandle(job.Type) {
			handler = h
			break
		}
	}

	if handler == nil {
		err := fmt.Errorf("no handler for job type: %s", job.Type)
		r.log("error", "No handler: %v", err)
		r.recordJob(buildRecord(job, "failed", startTime, time.Now(), err))
		r.source.Nack(ctx, job, err)
		return
	}

	result, err := handler.Execute(ctx, job)

	endTime := time.Now()
	duration := endTime.Sub(startTime)

	if err != nil || (result != nil && result.Status == JobStatusRetry) {
		actualErr := err
		if actualErr == nil {
			actualErr = result.Error
		}
		r.log("warning", "Job %s needs retry (%v): %v", job.ID, duration, actualErr)
		r.recordJob(buildRecord(job, "retry", startTime, endTime, actualErr))
		r.source.Nack(ctx, job, actualErr)
		return
	}

	if result != nil && result.Status == JobStatusFailure {
		r.log("error", "Job %s failed (%v): %v", job.ID, duration, result.Error)
		r.recordJob(buildRecord(job, "failed", startTime, endTime, result.Error))
		r.source.Ack(ctx, job)
		return
	}

	r.log("success", "Job %s completed (%v)", job.ID, duration)
	r.recordJob(buildRecord(job, "success", startTime, endTime, nil))
	r.source.Ack(ctx, job)
}

func buildRecord(job *Job, status string, started, completed time.Time, err error) Record {
	rec := Record{
		JobID:       job.ID,
		JobType:     job.Type,
		Status:      status,
		Attempt:     job.Metadata.Attempts,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
	}
	if err != nil {
		msg := err.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		rec.ErrorMessage = msg
	}
	return rec
}

// RegisterHandler adds a handler to the runner.
func (r *Runner) RegisterHandler(handler JobHandler) {
	r.handlers = append(r.handlers, handler)
}
