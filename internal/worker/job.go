// Package worker runs queued paygrid tasks.
//
// Architecture:
//
//	JobSource (redis) → Runner → JobHandler
//
// The Runner orchestrates the processing loop:
//  1. Connect to the job source
//  2. Fetch the next job (blocking)
//  3. Dispatch to the handler for its type
//  4. Ack or Nack based on the result
//  5. Repeat
package worker

import (
	"time"

	"github.com/aceteam-ai/paygrid/internal/queue"
)

// Job is one delivery of a queued task.
type Job struct {
	// ID is the extraction or normalization job id carried by the task.
	ID string

	// Type selects the handler.
	Type string

	Task queue.Task

	// Source identifies where this job came from.
	Source string

	// MessageID and SourceQueue locate the delivery for ack/nack.
	MessageID   string
	SourceQueue string

	Metadata JobMetadata
}

// JobMetadata contains optional delivery metadata.
type JobMetadata struct {
	// Attempts is the number of times this delivery has been handed out.
	Attempts int

	MaxAttempts int

	// Reclaimed is set when the delivery was taken over from an idle consumer.
	Reclaimed bool
}

// JobResult contains the outcome of job processing.
type JobResult struct {
	Status JobStatus

	Output map[string]any

	// Error contains error details if status is not success.
	Error error

	Duration time.Duration
}

// JobStatus represents the outcome of job processing.
type JobStatus string

const (
	// JobStatusSuccess means the task is done, including failures that were
	// recorded on the job itself.
	JobStatusSuccess JobStatus = "success"

	// JobStatusFailure means the task can never succeed; it is acknowledged
	// without retry.
	JobStatusFailure JobStatus = "failure"

	// JobStatusRetry leaves the delivery pending for redelivery.
	JobStatusRetry JobStatus = "retry"
)

// Job types.
const (
	JobTypeExtract   = queue.TaskExtract
	JobTypeNormalize = queue.TaskNormalize
)
