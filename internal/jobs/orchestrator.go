// Package jobs drives an uploaded contract from intake to an applied (or
// rejected) district schedule.
//
// Lifecycle:
//
//	CreateJob → pending → [worker] processing → completed | failed
//	completed → ApplyJob → cells committed, job deleted
//	any       → RejectJob → job and blobs deleted
//
// A district is locked from CreateJob until its job is applied, rejected or
// expires, so two applies never race on the same cell set.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/extract"
	"github.com/aceteam-ai/paygrid/internal/ledger"
	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/queue"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

// Enqueuer hands tasks to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, stream string, task queue.Task) (string, error)
}

// Invalidator drops cached reads made stale by a write.
type Invalidator interface {
	Invalidate(ctx context.Context, prefixes ...string) error
}

// Recorder appends to the activity ledger.
type Recorder interface {
	Insert(e ledger.Entry) error
}

// Config holds orchestrator settings.
type Config struct {
	// Retention is how long a job record lives before the store purges it (default: 24h)
	Retention time.Duration

	// PreviewLimit is the default number of staged rows returned by GetJob (default: 20)
	PreviewLimit int

	// ApplyGuardTTL bounds how long a crashed apply can block the same job (default: 5m)
	ApplyGuardTTL time.Duration

	// Stream is the extraction task stream (default: queue.ExtractStream)
	Stream string
}

// Orchestrator implements the job operations.
type Orchestrator struct {
	store     *store.Store
	blobs     blob.Store
	queue     Enqueuer
	extractor *extract.Extractor
	cache     Invalidator
	ledger    Recorder
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithExtractor enables RunExtraction. Only workers need it.
func WithExtractor(e *extract.Extractor) Option { return func(o *Orchestrator) { o.extractor = e } }

func WithInvalidator(c Invalidator) Option { return func(o *Orchestrator) { o.cache = c } }

func WithLedger(r Recorder) Option { return func(o *Orchestrator) { o.ledger = r } }

// New creates an orchestrator.
func New(st *store.Store, blobs blob.Store, q Enqueuer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = 20
	}
	if cfg.ApplyGuardTTL <= 0 {
		cfg.ApplyGuardTTL = 5 * time.Minute
	}
	if cfg.Stream == "" {
		cfg.Stream = queue.ExtractStream
	}
	o := &Orchestrator{
		store: st,
		blobs: blobs,
		queue: q,
		cfg:   cfg,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateRequest is an upload to process.
type CreateRequest struct {
	DistrictID string
	Filename   string
	Data       []byte
	// SchoolYearHint is applied to rows whose year could not be detected.
	SchoolYearHint string
}

// CreateJob stores the document, records a pending job and enqueues its
// extraction. It returns as soon as the task is queued.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateRequest) (*schedule.ExtractionJob, error) {
	if req.DistrictID == "" {
		return nil, apperr.Validation("district id is required")
	}
	if len(req.Data) == 0 {
		return nil, apperr.Validation("document is empty")
	}
	if !extract.IsPDF(req.Data) {
		return nil, apperr.Validation("document %q is not a PDF", req.Filename)
	}
	if req.SchoolYearHint != "" && !schedule.ValidSchoolYear(req.SchoolYearHint) {
		return nil, apperr.Validation("school year hint %q is not YYYY-YYYY", req.SchoolYearHint)
	}
	ok, err := o.store.DistrictExists(ctx, req.DistrictID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation("unknown district %q", req.DistrictID)
	}

	now := o.now().UTC()
	job := &schedule.ExtractionJob{
		JobID:          uuid.New().String(),
		DistrictID:     req.DistrictID,
		Status:         schedule.JobPending,
		Filename:       req.Filename,
		SchoolYearHint: req.SchoolYearHint,
		YearsFound:     []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(o.cfg.Retention),
	}
	log := o.log.With("job_id", job.JobID, "district_id", job.DistrictID)

	holder, err := o.store.ClaimDistrict(ctx, job.DistrictID, job.JobID, job.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if holder != "" {
		return nil, apperr.ApplyConflict("district %s has unresolved job %s", job.DistrictID, holder)
	}

	key := blob.UploadKey(job.DistrictID, job.JobID, req.Filename)
	if err := o.blobs.Put(ctx, key, req.Data, "application/pdf"); err != nil {
		o.releaseQuietly(ctx, job)
		return nil, apperr.Storage(err, "store document for job %s", job.JobID)
	}
	job.SourceLocation = o.blobs.Location(key)

	if err := o.store.CreateJob(ctx, job); err != nil {
		o.deleteBlob(ctx, key)
		o.releaseQuietly(ctx, job)
		return nil, err
	}

	if _, err := o.queue.Enqueue(ctx, o.cfg.Stream, queue.ExtractTask(job.JobID, job.DistrictID, job.SourceLocation)); err != nil {
		// nothing will ever process this job; undo it so the district is free
		if derr := o.store.DeleteJob(context.WithoutCancel(ctx), job); derr != nil {
			log.Warn("rollback of unqueued job failed", "error", derr)
		}
		o.deleteBlob(ctx, key)
		return nil, err
	}

	log.Info("extraction job created", "filename", req.Filename, "bytes", len(req.Data))
	return job, nil
}

// View is a job together with a preview of its staged rows.
type View struct {
	*schedule.ExtractionJob
	Preview []schedule.Cell `json:"preview,omitempty"`
}

// GetJob returns a job; completed jobs carry up to limit staged rows
// (limit <= 0 uses the configured preview size).
func (o *Orchestrator) GetJob(ctx context.Context, jobID string, limit int) (*View, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	v := &View{ExtractionJob: job}
	if job.Status != schedule.JobCompleted {
		return v, nil
	}
	if limit <= 0 {
		limit = o.cfg.PreviewLimit
	}
	staged, err := o.loadStaged(ctx, jobID)
	if err != nil {
		return nil, err
	}
	v.Preview = staged.Cells[:min(limit, len(staged.Cells))]
	return v, nil
}

// ApplyResult is returned by ApplyJob.
type ApplyResult struct {
	CommittedCount           int    `json:"committed_count"`
	NeedsGlobalNormalization bool   `json:"needs_global_normalization"`
	BackupKey                string `json:"backup_key,omitempty"`
}

// ApplyJob commits a completed job's staged rows as the district's cells
// for every (year, period) they cover. The replace is atomic; the cells it
// removes are backed up first.
func (o *Orchestrator) ApplyJob(ctx context.Context, jobID string) (res *ApplyResult, err error) {
	ctx, span := otel.Tracer("paygrid/jobs").Start(ctx, "jobs.ApplyJob")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))
	started := o.now()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != schedule.JobCompleted {
		return nil, apperr.ApplyConflict("job %s is %s, not completed", jobID, job.Status)
	}
	release, ok, err := o.store.GuardApply(ctx, jobID, o.cfg.ApplyGuardTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ApplyConflict("job %s is already being applied", jobID)
	}
	defer release()

	log := o.log.With("job_id", jobID, "district_id", job.DistrictID)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			o.record(ledger.Entry{Kind: ledger.KindApply, JobID: jobID, DistrictID: job.DistrictID,
				Status: "failed", ErrorMessage: err.Error(), StartedAt: started, CompletedAt: o.now()})
		}
	}()

	holder, err := o.store.DistrictLockHolder(ctx, job.DistrictID)
	if err != nil {
		return nil, err
	}
	if holder != "" && holder != jobID {
		return nil, apperr.ApplyConflict("district %s is locked by job %s", job.DistrictID, holder)
	}

	staged, err := o.loadStaged(ctx, jobID)
	if err != nil {
		return nil, err
	}
	cells := make([]schedule.Cell, len(staged.Cells))
	for i, c := range staged.Cells {
		if c.SchoolYear == "" {
			return nil, apperr.Validation("staged row %d has no school year; reject and resubmit with a school year hint", i)
		}
		c.DistrictID = job.DistrictID
		c.IsCalculated = false
		c.CalculatedFrom = ""
		cells[i] = c
	}
	scopes := store.ScopesOf(cells)

	backupKey := blob.BackupKey(job.DistrictID, jobID, o.now())
	backedUp := false
	n, err := o.store.ReplaceScopes(ctx, job.DistrictID, scopes, cells, func(old []schedule.Cell) error {
		backedUp = len(old) > 0
		if !backedUp {
			return nil
		}
		return o.putJSON(ctx, backupKey, old)
	})
	if err != nil {
		return nil, err
	}
	if !backedUp {
		backupKey = ""
	}

	grew, err := o.store.MergeMaxValues(ctx, cells, jobID)
	if err != nil {
		return nil, err
	}
	o.invalidate(ctx, query.StalePrefixes(job.DistrictID, scopes)...)

	// the cells are committed; cleanup failures below are logged, not returned
	o.archive(ctx, job)
	o.deleteBlob(ctx, blob.StagedKey(jobID))
	if err := o.store.DeleteJob(ctx, job); err != nil {
		log.Warn("failed to delete applied job", "error", err)
	}

	res = &ApplyResult{CommittedCount: n, NeedsGlobalNormalization: grew, BackupKey: backupKey}
	span.SetAttributes(attribute.Int("committed", n), attribute.Bool("grew", grew))
	log.Info("job applied", "committed", n, "scopes", len(scopes), "needs_normalization", grew, "backup", backupKey)
	o.record(ledger.Entry{Kind: ledger.KindApply, JobID: jobID, DistrictID: job.DistrictID, Status: "success",
		Count: n, BackupKey: backupKey, Detail: scopeList(scopes), StartedAt: started, CompletedAt: o.now()})
	return res, nil
}

// RejectJob discards a job in any state with its source and staged blobs.
func (o *Orchestrator) RejectJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	release, ok, err := o.store.GuardApply(ctx, jobID, o.cfg.ApplyGuardTTL)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ApplyConflict("job %s is being applied", jobID)
	}
	defer release()

	if key, err := o.blobs.KeyOf(job.SourceLocation); err == nil {
		o.deleteBlob(ctx, key)
	}
	o.deleteBlob(ctx, blob.StagedKey(jobID))
	if err := o.store.DeleteJob(ctx, job); err != nil {
		return err
	}

	o.log.Info("job rejected", "job_id", jobID, "district_id", job.DistrictID, "status", job.Status)
	o.record(ledger.Entry{Kind: ledger.KindReject, JobID: jobID, DistrictID: job.DistrictID,
		Status: "success", Detail: string(job.Status), CompletedAt: o.now()})
	return nil
}

// MarkDeadLettered fails a job whose extraction task exhausted its deliveries.
func (o *Orchestrator) MarkDeadLettered(ctx context.Context, jobID, reason string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	job.Status = schedule.JobFailed
	job.ErrorMessage = "extraction retries exhausted: " + reason
	if err := o.store.SaveJob(ctx, job); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	o.record(ledger.Entry{Kind: ledger.KindDeadLetter, JobID: jobID, DistrictID: job.DistrictID,
		Status: "failed", ErrorMessage: job.ErrorMessage, CompletedAt: o.now()})
	return nil
}

// staged is the artifact written by RunExtraction.
type staged struct {
	JobID      string            `json:"job_id"`
	DistrictID string            `json:"district_id"`
	Method     string            `json:"method"`
	Attempts   []extract.Attempt `json:"attempts"`
	Cells      []schedule.Cell   `json:"cells"`
}

func (o *Orchestrator) loadStaged(ctx context.Context, jobID string) (*staged, error) {
	raw, err := o.blobs.Get(ctx, blob.StagedKey(jobID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, apperr.NotFound("staged rows for job %s", jobID)
	}
	if err != nil {
		return nil, apperr.Storage(err, "read staged rows for job %s", jobID)
	}
	var s staged
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode staged rows for job %s: %w", jobID, err)
	}
	return &s, nil
}

func (o *Orchestrator) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := o.blobs.Put(ctx, key, raw, "application/json"); err != nil {
		return apperr.Storage(err, "write %s", key)
	}
	return nil
}

// archive moves an applied job's source document under contracts/.
func (o *Orchestrator) archive(ctx context.Context, job *schedule.ExtractionJob) {
	src, err := o.blobs.KeyOf(job.SourceLocation)
	if err != nil {
		return
	}
	data, err := o.blobs.Get(ctx, src)
	if err != nil {
		o.log.Warn("source document missing at apply", "job_id", job.JobID, "key", src, "error", err)
		return
	}
	dst := blob.ContractKey(job.DistrictID, job.JobID, job.Filename)
	if err := o.blobs.Put(ctx, dst, data, "application/pdf"); err != nil {
		o.log.Warn("failed to archive contract", "job_id", job.JobID, "key", dst, "error", err)
		return
	}
	o.deleteBlob(ctx, src)
}

func (o *Orchestrator) deleteBlob(ctx context.Context, key string) {
	if err := o.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		o.log.Warn("failed to delete blob", "key", key, "error", err)
	}
}

func (o *Orchestrator) releaseQuietly(ctx context.Context, job *schedule.ExtractionJob) {
	if err := o.store.ReleaseDistrict(context.WithoutCancel(ctx), job.DistrictID, job.JobID); err != nil {
		o.log.Warn("failed to release district", "district_id", job.DistrictID, "error", err)
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, prefixes ...string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Invalidate(ctx, prefixes...); err != nil {
		o.log.Warn("cache invalidation failed", "error", err)
	}
}

func (o *Orchestrator) record(e ledger.Entry) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.Insert(e); err != nil {
		o.log.Warn("ledger write failed", "kind", e.Kind, "job_id", e.JobID, "error", err)
	}
}

func scopeList(scopes []schedule.Scope) string {
	raw, _ := json.Marshal(scopes)
	return string(raw)
}
