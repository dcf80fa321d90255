// Package normalize fills the holes in the shared compensation dataset so
// that every district answers for every lane and step the dataset knows.
//
// A run makes two passes over each district's (school year, period) group:
// fill-down synthesizes steps a lane is missing, then fill-right copies
// globally known lanes the district lacks from its nearest present lane.
// Synthesized cells are flagged calculated and recomputed from the document
// cells on every run, so runs are idempotent. At most one run is in flight
// at a time.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aceteam-ai/paygrid/internal/apperr"
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

// Invalidator drops cached reads.
type Invalidator interface {
	Invalidate(ctx context.Context, prefixes ...string) error
}

// Recorder appends to the activity ledger.
type Recorder interface {
	Insert(e ledger.Entry) error
}

// Config holds normalization settings.
type Config struct {
	// RunningTTL bounds how long a crashed run blocks new ones (default: 2h)
	RunningTTL time.Duration

	// Stream is the normalization task stream (default: queue.NormalizeStream)
	Stream string
}

// Service implements the normalization operations.
type Service struct {
	store  *store.Store
	queue  Enqueuer
	cache  Invalidator
	ledger Recorder
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithInvalidator(c Invalidator) Option { return func(s *Service) { s.cache = c } }

func WithLedger(r Recorder) Option { return func(s *Service) { s.ledger = r } }

// New creates a normalization service. q may be nil when runs are only
// started inline with Normalize.
func New(st *store.Store, q Enqueuer, cfg Config, opts ...Option) *Service {
	if cfg.RunningTTL <= 0 {
		cfg.RunningTTL = 2 * time.Hour
	}
	if cfg.Stream == "" {
		cfg.Stream = queue.NormalizeStream
	}
	s := &Service{store: st, queue: q, cfg: cfg, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is the answer to GetNormalizationStatus.
type Status struct {
	schedule.NormalizationStatus
	MaxValues schedule.MaxValuesMetadata  `json:"max_values"`
	Running   *schedule.NormalizationJob  `json:"running,omitempty"`
	Recent    []schedule.NormalizationJob `json:"recent"`
}

// GetNormalizationStatus reports whether a run is owed, the run in flight
// if any, and the most recent terminal runs.
func (s *Service) GetNormalizationStatus(ctx context.Context, recent int) (*Status, error) {
	st, err := s.store.NormalizationStatus(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.MaxValues(ctx)
	if err != nil {
		return nil, err
	}
	running, err := s.store.RunningNormalization(ctx)
	if err != nil {
		return nil, err
	}
	if recent <= 0 {
		recent = 5
	}
	jobs, err := s.store.NormalizationJobs(ctx, recent)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []schedule.NormalizationJob{}
	}
	if meta.EduCreditCombos == nil {
		meta.EduCreditCombos = []string{}
	}
	return &Status{NormalizationStatus: st, MaxValues: meta, Running: running, Recent: jobs}, nil
}

// StartNormalization claims the single running slot and queues the run.
// While another run holds the slot it fails with a normalization conflict
// and records nothing.
func (s *Service) StartNormalization(ctx context.Context) (*schedule.NormalizationJob, error) {
	if s.queue == nil {
		return nil, fmt.Errorf("normalization service has no queue")
	}
	job, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, s.cfg.Stream, queue.NormalizeTask(job.JobID)); err != nil {
		s.abort(ctx, job, fmt.Sprintf("enqueue: %v", err), "")
		return nil, err
	}
	s.log.Info("normalization queued", "job_id", job.JobID)
	return job, nil
}

// Normalize claims the running slot and runs in the calling goroutine.
func (s *Service) Normalize(ctx context.Context) (*schedule.NormalizationJob, error) {
	job, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, job.JobID)
}

func (s *Service) acquire(ctx context.Context) (*schedule.NormalizationJob, error) {
	job := schedule.NormalizationJob{
		JobID:     uuid.New().String(),
		Status:    schedule.NormalizationRunning,
		StartedAt: s.now().UTC(),
	}
	running, err := s.store.AcquireNormalization(ctx, job, s.cfg.RunningTTL)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return nil, apperr.NormalizationConflict("normalization %s is already running since %s",
			running.JobID, running.StartedAt.Format(time.RFC3339))
	}
	return &job, nil
}

// Run executes the run that holds the running slot under jobID. A task
// whose run no longer holds the slot is skipped with a nil job. On failure
// the run is recorded as failed, needs_normalization is left as it was,
// and both the failed job and the error are returned.
func (s *Service) Run(ctx context.Context, jobID string) (*schedule.NormalizationJob, error) {
	ctx, span := otel.Tracer("paygrid/normalize").Start(ctx, "normalize.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))
	log := s.log.With("job_id", jobID)

	running, err := s.store.RunningNormalization(ctx)
	if err != nil {
		return nil, err
	}
	if running == nil || running.JobID != jobID {
		log.Warn("normalization task does not own the running slot, skipping")
		return nil, nil
	}
	job := *running

	status, err := s.store.NormalizationStatus(ctx)
	if err != nil {
		return s.abort(ctx, &job, err.Error(), ""), err
	}
	seen := status.LastJobID

	meta, err := s.fill(ctx, &job, log)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("normalization failed", "error", err)
		return s.abort(ctx, &job, err.Error(), seen), err
	}

	job.Status = schedule.NormalizationCompleted
	job.CompletedAt = s.now().UTC()
	if err := s.store.FinishNormalization(context.WithoutCancel(ctx), job, meta, seen); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, query.AllPrefixes()...); err != nil {
			log.Warn("cache invalidation failed", "error", err)
		}
	}

	span.SetAttributes(attribute.Int("records_created", job.RecordsCreated))
	log.Info("normalization completed",
		"records_created", job.RecordsCreated, "filled_down", job.FilledDown, "filled_right", job.FilledRight,
		"max_step", meta.MaxStep, "lanes", len(meta.EduCreditCombos))
	s.record(job)
	return &job, nil
}

// fill runs both passes over every registered district and returns the
// combination space of the completed dataset.
func (s *Service) fill(ctx context.Context, job *schedule.NormalizationJob, log *slog.Logger) (*schedule.MaxValuesMetadata, error) {
	known, err := s.store.MaxValues(ctx)
	if err != nil {
		return nil, err
	}
	lanes := known.Lanes()

	districts, err := s.store.Districts(ctx)
	if err != nil {
		return nil, err
	}

	next := &schedule.MaxValuesMetadata{}
	for _, d := range districts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := s.store.DistrictCells(ctx, d, "", "")
		if err != nil {
			return nil, err
		}
		for _, g := range groupByScope(cells) {
			down := FillDown(g.docs)
			base := append(append([]schedule.Cell(nil), g.docs...), down...)
			right := FillRight(base, lanes)

			nd, err := s.store.PutCalculated(ctx, d, down)
			if err != nil {
				return nil, err
			}
			nr, err := s.store.PutCalculated(ctx, d, right)
			if err != nil {
				return nil, err
			}
			job.FilledDown += nd
			job.FilledRight += nr

			next.Merge(base)
			next.Merge(right)
			if nd+nr > 0 {
				log.Debug("filled scope", "district_id", d, "scope", g.scope.String(), "down", nd, "right", nr)
			}
		}
	}
	job.RecordsCreated = job.FilledDown + job.FilledRight
	return next, nil
}

// abort records a failed run. Metadata and status are not touched.
func (s *Service) abort(ctx context.Context, job *schedule.NormalizationJob, msg, seen string) *schedule.NormalizationJob {
	job.Status = schedule.NormalizationFailed
	job.FailedAt = s.now().UTC()
	job.ErrorMessage = msg
	if err := s.store.FinishNormalization(context.WithoutCancel(ctx), *job, nil, seen); err != nil {
		s.log.Error("failed to record failed normalization", "job_id", job.JobID, "error", err)
	}
	s.record(*job)
	return job
}

func (s *Service) record(job schedule.NormalizationJob) {
	if s.ledger == nil {
		return
	}
	e := ledger.Entry{
		Kind:         ledger.KindNormalize,
		JobID:        job.JobID,
		Status:       "success",
		Count:        job.RecordsCreated,
		ErrorMessage: job.ErrorMessage,
		Detail:       fmt.Sprintf("filled_down=%d filled_right=%d", job.FilledDown, job.FilledRight),
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Status == schedule.NormalizationFailed {
		e.Status = "failed"
		e.CompletedAt = job.FailedAt
	}
	if err := s.ledger.Insert(e); err != nil {
		s.log.Warn("ledger write failed", "job_id", job.JobID, "error", err)
	}
}
