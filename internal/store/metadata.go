package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// normalizationJobRetention bounds how long terminal normalization records live.
const normalizationJobRetention = 30 * 24 * time.Hour

func getJSON(ctx context.Context, c redis.Cmdable, key string, v any) (bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode %T: %v", v, err))
	}
	return raw
}

// MaxValues reads the combination space metadata; absent means empty.
func (s *Store) MaxValues(ctx context.Context) (schedule.MaxValuesMetadata, error) {
	var m schedule.MaxValuesMetadata
	if _, err := getJSON(ctx, s.rdb, schedule.MaxValuesKey, &m); err != nil {
		return m, apperr.Storage(err, "read max values")
	}
	return m, nil
}

// NormalizationStatus reads the global status record.
func (s *Store) NormalizationStatus(ctx context.Context) (schedule.NormalizationStatus, error) {
	var st schedule.NormalizationStatus
	if _, err := getJSON(ctx, s.rdb, schedule.NormalizationStatusKey, &st); err != nil {
		return st, apperr.Storage(err, "read normalization status")
	}
	return st, nil
}

// MergeMaxValues folds freshly committed cells into the combination space.
// When the space grows, the new metadata and needs_normalization=true are
// written together. It reports whether the space grew.
func (s *Store) MergeMaxValues(ctx context.Context, cells []schedule.Cell, jobID string) (bool, error) {
	var grew bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		var m schedule.MaxValuesMetadata
		if _, err := getJSON(ctx, tx, schedule.MaxValuesKey, &m); err != nil {
			return err
		}
		var st schedule.NormalizationStatus
		if _, err := getJSON(ctx, tx, schedule.NormalizationStatusKey, &st); err != nil {
			return err
		}
		grew = m.Merge(cells)
		if !grew {
			return nil
		}
		st.NeedsNormalization = true
		st.LastJobID = jobID
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, schedule.MaxValuesKey, mustJSON(m), 0)
			pipe.Set(ctx, schedule.NormalizationStatusKey, mustJSON(st), 0)
			return nil
		})
		return err
	}, schedule.MaxValuesKey, schedule.NormalizationStatusKey)
	if err != nil {
		return false, apperr.Storage(err, "update max values")
	}
	return grew, nil
}

// AcquireNormalization writes the running marker if no run is in flight.
// It returns the running job already holding it when acquisition fails.
func (s *Store) AcquireNormalization(ctx context.Context, job schedule.NormalizationJob, ttl time.Duration) (*schedule.NormalizationJob, error) {
	ok, err := s.rdb.SetNX(ctx, schedule.RunningNormalizationKey, mustJSON(job), ttl).Result()
	if err != nil {
		return nil, apperr.Storage(err, "acquire normalization")
	}
	if ok {
		return nil, nil
	}
	running, err := s.RunningNormalization(ctx)
	if err != nil {
		return nil, err
	}
	if running == nil {
		// expired between SETNX and GET; report a conflict anyway, the caller may retry
		running = &schedule.NormalizationJob{Status: schedule.NormalizationRunning}
	}
	return running, nil
}

// RunningNormalization returns the in-flight run, or nil.
func (s *Store) RunningNormalization(ctx context.Context) (*schedule.NormalizationJob, error) {
	var job schedule.NormalizationJob
	ok, err := getJSON(ctx, s.rdb, schedule.RunningNormalizationKey, &job)
	if err != nil {
		return nil, apperr.Storage(err, "read running normalization")
	}
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// FinishNormalization replaces the running marker with a terminal record.
// On success the recomputed metadata and the status are written in the same
// transaction; on failure both are left untouched, and so are they when the
// marker has lapsed or passed to another run. seenJobID is the status
// LastJobID observed when the run started: if an apply raised the flag since
// then, the flag stays raised and the metadata keeps what that apply added.
func (s *Store) FinishNormalization(ctx context.Context, job schedule.NormalizationJob, meta *schedule.MaxValuesMetadata, seenJobID string) error {
	err := s.watch(ctx, func(tx *redis.Tx) error {
		var running schedule.NormalizationJob
		held, err := getJSON(ctx, tx, schedule.RunningNormalizationKey, &running)
		if err != nil {
			return err
		}
		var st schedule.NormalizationStatus
		if _, err := getJSON(ctx, tx, schedule.NormalizationStatusKey, &st); err != nil {
			return err
		}
		var cur schedule.MaxValuesMetadata
		if _, err := getJSON(ctx, tx, schedule.MaxValuesKey, &cur); err != nil {
			return err
		}
		raisedSince := st.NeedsNormalization && st.LastJobID != seenJobID
		owned := held && running.JobID == job.JobID
		if !owned && job.Status == schedule.NormalizationCompleted {
			s.log.Warn("normalization finished without holding the running slot, keeping status", "job_id", job.JobID, "running_job_id", running.JobID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, schedule.NormalizationJobKey(job.JobID), mustJSON(job), normalizationJobRetention)
			pipe.ZAdd(ctx, schedule.NormalizationJobsKey, redis.Z{Score: float64(job.StartedAt.Unix()), Member: job.JobID})
			if owned && job.Status == schedule.NormalizationCompleted && meta != nil {
				next := *meta
				next.EduCreditCombos = append([]string(nil), meta.EduCreditCombos...)
				status := schedule.NormalizationStatus{LastNormalizedAt: job.CompletedAt, LastJobID: job.JobID}
				if raisedSince {
					next.MaxStep = max(next.MaxStep, cur.MaxStep)
					for _, l := range cur.Lanes() {
						next.Merge([]schedule.Cell{{Education: l.Education, Credits: l.Credits}})
					}
					status.NeedsNormalization = true
					status.LastJobID = st.LastJobID
				}
				pipe.Set(ctx, schedule.MaxValuesKey, mustJSON(next), 0)
				pipe.Set(ctx, schedule.NormalizationStatusKey, mustJSON(status), 0)
			}
			if owned {
				pipe.Del(ctx, schedule.RunningNormalizationKey)
			}
			return nil
		})
		return err
	}, schedule.RunningNormalizationKey, schedule.NormalizationStatusKey, schedule.MaxValuesKey)
	if err != nil {
		return apperr.Storage(err, "finish normalization %s", job.JobID)
	}
	return nil
}

// NormalizationJobs returns up to n terminal runs, newest first. Records
// that have aged out are skipped.
func (s *Store) NormalizationJobs(ctx context.Context, n int) ([]schedule.NormalizationJob, error) {
	ids, err := s.rdb.ZRevRange(ctx, schedule.NormalizationJobsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, apperr.Storage(err, "list normalization jobs")
	}
	var out []schedule.NormalizationJob
	for _, id := range ids {
		var job schedule.NormalizationJob
		ok, err := getJSON(ctx, s.rdb, schedule.NormalizationJobKey(id), &job)
		if err != nil {
			return nil, apperr.Storage(err, "read normalization job %s", id)
		}
		if ok {
			out = append(out, job)
		}
	}
	return out, nil
}
