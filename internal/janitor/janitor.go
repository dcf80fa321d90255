// Package janitor periodically removes what abandoned jobs leave behind:
// upload and staged blobs whose job record has expired, and district locks
// whose owning job no longer exists.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/store"
)

// Config holds janitor settings.
type Config struct {
	// Schedule is a cron spec (default: "@every 15m")
	Schedule string

	// Grace skips blobs and district claims younger than this, so a job
	// being created right now is not swept before its record lands
	// (default: 10m)
	Grace time.Duration
}

// Report summarizes one sweep.
type Report struct {
	OrphanBlobs   int `json:"orphan_blobs"`
	ReleasedLocks int `json:"released_locks"`
}

// Janitor sweeps on a cron schedule.
type Janitor struct {
	store *store.Store
	blobs blob.Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Janitor.
type Option func(*Janitor)

func WithLogger(l *slog.Logger) Option { return func(j *Janitor) { j.log = l } }

func WithClock(now func() time.Time) Option { return func(j *Janitor) { j.now = now } }

func New(st *store.Store, blobs blob.Store, cfg Config, opts ...Option) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15m"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	j := &Janitor{store: st, blobs: blobs, cfg: cfg, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Sweep runs one pass.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	cutoff := j.now().Add(-j.cfg.Grace)
	n, err := j.store.ReleaseStaleLocks(ctx, cutoff)
	rep.ReleasedLocks = n
	if err != nil {
		return rep, err
	}

	for _, prefix := range []string{blob.UploadsPrefix, blob.StagedPrefix} {
		objs, err := j.blobs.List(ctx, prefix)
		if err != nil {
			return rep, err
		}
		for _, o := range objs {
			if o.ModTime.After(cutoff) {
				continue
			}
			jobID, ok := blob.JobIDFromKey(o.Key)
			if !ok {
				continue
			}
			exists, err := j.store.JobExists(ctx, jobID)
			if err != nil {
				return rep, err
			}
			if exists {
				continue
			}
			if err := j.blobs.Delete(ctx, o.Key); err != nil {
				j.log.Warn("failed to delete orphan blob", "key", o.Key, "error", err)
				continue
			}
			j.log.Debug("deleted orphan blob", "key", o.Key, "job_id", jobID)
			rep.OrphanBlobs++
		}
	}
	return rep, nil
}

// Run sweeps on the configured schedule until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(j.cfg.Schedule, func() {
		rep, err := j.Sweep(ctx)
		if err != nil {
			j.log.Error("janitor sweep failed", "error", err)
			return
		}
		if rep.OrphanBlobs > 0 || rep.ReleasedLocks > 0 {
			j.log.Info("janitor sweep", "orphan_blobs", rep.OrphanBlobs, "released_locks", rep.ReleasedLocks)
		}
	})
	if err != nil {
		return err
	}

	j.log.Info("janitor started", "schedule", j.cfg.Schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
