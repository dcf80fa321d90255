package worker

import "context"

// JobSource defines the interface for fetching jobs from a queue.
// The implementation is RedisSource (Redis Streams).
type JobSource interface {
	// Name returns the source identifier.
	Name() string

	// Connect prepares the source. It is called before Next.
	Connect(ctx context.Context) error

	// Next blocks until a job is available or the context is cancelled.
	// Returns a nil job (no error) if nothing arrived within the timeout.
	// The job is claimed by this worker and must be Ack'd or Nack'd.
	Next(ctx context.Context) (*Job, error)

	// Ack removes the job from the queue.
	Ack(ctx context.Context, job *Job) error

	// Nack leaves the job for redelivery or dead-lettering.
	Nack(ctx context.Context, job *Job, err error) error

	Close() error
}
