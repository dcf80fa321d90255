package worker

import "context"

// JobHandler processes jobs of a specific type.
// Handlers are registered with the Runner and dispatched based on CanHandle().
type JobHandler interface {
	// CanHandle returns true if this handler can process the given job type.
	CanHandle(jobType string) bool

	// Execute processes the job. A returned error is treated as transient
	// and the job is retried.
	Execute(ctx context.Context, job *Job) (*JobResult, error)
}

// HandlerFunc adapts a function to a JobHandler for a single job type.
type HandlerFunc struct {
	Type string
	Fn   func(ctx context.Context, job *Job) (*JobResult, error)
}

func (h HandlerFunc) CanHandle(jobType string) bool { return jobType == h.Type }

func (h HandlerFunc) Execute(ctx context.Context, job *Job) (*JobResult, error) {
	return h.Fn(ctx, job)
}

var _ JobHandler = HandlerFunc{}
