// internal/jobs/handler.go
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aceteam-ai/paygrid/internal/ledger"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/worker"
)

// ExtractionHandler runs RunExtraction for extract tasks. A job that ends
// up failed is still a successful delivery; only infrastructure errors ask
// for a redelivery.
func (o *Orchestrator) ExtractionHandler() worker.JobHandler {
	return worker.HandlerFunc{
		Type: worker.JobTypeExtract,
		Fn: func(ctx context.Context, job *worker.Job) (*worker.JobResult, error) {
			if job.Metadata.Reclaimed {
				o.log.Info("extraction task reclaimed from an idle worker", "job_id", job.ID, "attempt", job.Metadata.Attempts)
			}
			j, err := o.RunExtraction(ctx, job.ID)
			if err != nil {
				return nil, err
			}
			out := map[string]any{}
			if j != nil {
				out["status"] = string(j.Status)
				out["record_count"] = j.RecordCount
				out["method"] = j.MethodUsed
				if j.Status == schedule.JobFailed {
					out["error"] = j.ErrorMessage
				}
			}
			return &worker.JobResult{Status: worker.JobStatusSuccess, Output: out}, nil
		},
	}
}

// DeadLetterFunc marks the job of a dead-lettered extraction task failed.
func (o *Orchestrator) DeadLetterFunc() func(ctx context.Context, job *worker.Job, reason string) {
	return func(ctx context.Context, job *worker.Job, reason string) {
		if job.Type != "" && job.Type != worker.JobTypeExtract {
			return
		}
		if err := o.MarkDeadLettered(ctx, job.ID, reason); err != nil {
			o.log.Error("failed to mark dead-lettered job", "job_id", job.ID, "error", err)
		}
	}
}

// LedgerRecordFunc writes worker delivery outcomes to the ledger.
func LedgerRecordFunc(r Recorder, log *slog.Logger) func(worker.Record) {
	if log == nil {
		log = slog.Default()
	}
	return func(rec worker.Record) {
		kind := ledger.KindExtraction
		if rec.JobType == worker.JobTypeNormalize {
			kind = ledger.KindNormalize
		}
		e := ledger.Entry{
			Kind:         kind,
			JobID:        rec.JobID,
			Status:       rec.Status,
			ErrorMessage: rec.ErrorMessage,
			Detail:       fmt.Sprintf("attempt %d", rec.Attempt),
			StartedAt:    rec.StartedAt,
			CompletedAt:  rec.CompletedAt,
			DurationMs:   rec.DurationMs,
		}
		if err := r.Insert(e); err != nil {
			log.Warn("ledger write failed", "job_id", rec.JobID, "error", err)
		}
	}
}
