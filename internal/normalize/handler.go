package normalize

import (
	"context"

	"github.com/aceteam-ai/paygrid/internal/worker"
)

// Handler runs queued normalization tasks. A failed run is final: its
// failure is already on the run record, so the task is not redelivered.
func (s *Service) Handler() worker.JobHandler {
	return worker.HandlerFunc{
		Type: worker.JobTypeNormalize,
		Fn: func(ctx context.Context, job *worker.Job) (*worker.JobResult, error) {
			run, err := s.Run(ctx, job.ID)
			if err != nil && run == nil {
				return nil, err
			}
			if run == nil {
				return &worker.JobResult{Status: worker.JobStatusSuccess, Output: map[string]any{"skipped": true}}, nil
			}
			out := map[string]any{
				"status":          string(run.Status),
				"records_created": run.RecordsCreated,
				"filled_down":     run.FilledDown,
				"filled_right":    run.FilledRight,
			}
			if err != nil {
				return &worker.JobResult{Status: worker.JobStatusFailure, Output: out, Error: err}, nil
			}
			return &worker.JobResult{Status: worker.JobStatusSuccess, Output: out}, nil
		},
	}
}
