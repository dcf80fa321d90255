package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/extract"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/selector"
)

// RunExtraction is the worker side of a job: it reads the source document,
// runs the extractor and the year/period selector, stages the rows and
// moves the job to completed or failed.
//
// Extraction failures end up on the job record. The returned error is only
// for infrastructure trouble worth a redelivery. Running it again for the
// same job overwrites the staged rows.
func (o *Orchestrator) RunExtraction(ctx context.Context, jobID string) (*schedule.ExtractionJob, error) {
	if o.extractor == nil {
		return nil, fmt.Errorf("orchestrator has no extractor")
	}
	log := o.log.With("job_id", jobID)

	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Info("job no longer exists, skipping extraction")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log = log.With("district_id", job.DistrictID)

	job.Status = schedule.JobProcessing
	job.Attempts++
	job.ErrorMessage = ""
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, o.goneOr(err, log)
	}

	key, err := o.blobs.KeyOf(job.SourceLocation)
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("bad source location: %v", err))
	}
	data, err := o.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return o.fail(ctx, job, "source document is missing")
	}
	if err != nil {
		return nil, apperr.Storage(err, "read source document for job %s", jobID)
	}

	res, err := o.extractor.Extract(ctx, extract.Document{Data: data, Filename: job.Filename, Location: job.SourceLocation})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeExtractionFailure {
			log.Warn("extraction failed", "error", err)
			return o.fail(ctx, job, err.Error())
		}
		return nil, err
	}

	cells := selector.Select(res.Cells, o.now())
	for i := range cells {
		cells[i].DistrictID = job.DistrictID
		if cells[i].SchoolYear == "" {
			cells[i].SchoolYear = job.SchoolYearHint
		}
	}

	stagedKey := blob.StagedKey(jobID)
	if err := o.putJSON(ctx, stagedKey, staged{
		JobID:      jobID,
		DistrictID: job.DistrictID,
		Method:     res.Method,
		Attempts:   res.Attempts,
		Cells:      cells,
	}); err != nil {
		return nil, err
	}

	job.Status = schedule.JobCompleted
	job.MethodUsed = res.Method
	job.RecordCount = len(cells)
	job.YearsFound = selector.Years(cells)
	if job.YearsFound == nil {
		job.YearsFound = []string{}
	}
	job.ExtractedLocation = o.blobs.Location(stagedKey)
	if err := o.store.SaveJob(ctx, job); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// rejected while we were extracting
			o.deleteBlob(ctx, stagedKey)
			log.Info("job removed during extraction, discarding result")
			return nil, nil
		}
		return nil, err
	}

	log.Info("extraction completed",
		"method", res.Method, "raw_rows", len(res.Cells), "kept_rows", len(cells), "years", job.YearsFound)
	return job, nil
}

func (o *Orchestrator) fail(ctx context.Context, job *schedule.ExtractionJob, msg string) (*schedule.ExtractionJob, error) {
	job.Status = schedule.JobFailed
	job.ErrorMessage = msg
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, o.goneOr(err, o.log.With("job_id", job.JobID))
	}
	return job, nil
}

func (o *Orchestrator) goneOr(err error, log *slog.Logger) error {
	if errors.Is(err, apperr.ErrNotFound) {
		log.Info("job removed during extraction")
		return nil
	}
	return err
}

// Backup describes a stored pre-apply cell set.
type Backup struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Backups lists a district's backups, newest first.
func (o *Orchestrator) Backups(ctx context.Context, districtID string) ([]Backup, error) {
	objs, err := o.blobs.List(ctx, blob.BackupsPrefix+districtID+"/")
	if err != nil {
		return nil, apperr.Storage(err, "list backups for %s", districtID)
	}
	out := make([]Backup, 0, len(objs))
	for i := len(objs) - 1; i >= 0; i-- {
		out = append(out, Backup{Key: objs[i].Key, Size: objs[i].Size, ModTime: objs[i].ModTime})
	}
	return out, nil
}
