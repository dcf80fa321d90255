package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// minTTL keeps a record alive long enough to be read back after a write
// that lands right at its expiry.
const minTTL = time.Second

// CreateJob writes a new job record that expires at job.ExpiresAt.
func (s *Store) CreateJob(ctx context.Context, job *schedule.ExtractionJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, schedule.JobKey(job.JobID), raw, s.ttlUntil(job.ExpiresAt)).Result()
	if err != nil {
		return apperr.Storage(err, "create job %s", job.JobID)
	}
	if !ok {
		return apperr.ApplyConflict("job %s already exists", job.JobID)
	}
	return nil
}

// SaveJob overwrites an existing job record, keeping its original expiry.
// A job that has expired or been deleted is reported as not found.
func (s *Store) SaveJob(ctx context.Context, job *schedule.ExtractionJob) error {
	job.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, schedule.JobKey(job.JobID), raw, s.ttlUntil(job.ExpiresAt)).Result()
	if err != nil {
		return apperr.Storage(err, "save job %s", job.JobID)
	}
	if !ok {
		return apperr.NotFound("job %s", job.JobID)
	}
	return nil
}

// GetJob loads a job record.
func (s *Store) GetJob(ctx context.Context, jobID string) (*schedule.ExtractionJob, error) {
	raw, err := s.rdb.Get(ctx, schedule.JobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, apperr.NotFound("job %s", jobID)
	}
	if err != nil {
		return nil, apperr.Storage(err, "read job %s", jobID)
	}
	var job schedule.ExtractionJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// JobExists reports whether a job record is still present.
func (s *Store) JobExists(ctx context.Context, jobID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, schedule.JobKey(jobID)).Result()
	if err != nil {
		return false, apperr.Storage(err, "check job %s", jobID)
	}
	return n == 1, nil
}

// DeleteJob removes a job record and releases its district lock if held.
func (s *Store) DeleteJob(ctx context.Context, job *schedule.ExtractionJob) error {
	if err := s.rdb.Del(ctx, schedule.JobKey(job.JobID)).Err(); err != nil {
		return apperr.Storage(err, "delete job %s", job.JobID)
	}
	return s.ReleaseDistrict(ctx, job.DistrictID, job.JobID)
}

// ClaimDistrict locks a district for jobID until expiresAt. When another job
// already holds the lock, its id is returned and nothing changes. A lock is
// taken over only when its owning job record is gone and the claim is older
// than the claim grace, so a job still being created keeps its district.
func (s *Store) ClaimDistrict(ctx context.Context, districtID, jobID string, expiresAt time.Time) (string, error) {
	lockKey := schedule.DistrictLockKey(districtID)
	now := s.now().UTC()
	var holder string
	err := s.watch(ctx, func(tx *redis.Tx) error {
		holder = ""
		raw, err := tx.Get(ctx, lockKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		cur, claimedAt := parseLock(raw)
		if cur != "" && cur != jobID {
			stale, err := s.lockStale(ctx, tx, cur, claimedAt, now.Add(-s.claimGrace))
			if err != nil {
				return err
			}
			if !stale {
				holder = cur
				return nil
			}
			s.log.Info("taking over stale district lock", "district_id", districtID, "stale_job_id", cur)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lockKey, formatLock(jobID, now), s.ttlUntil(expiresAt))
			return nil
		})
		return err
	}, lockKey)
	if err != nil {
		return "", apperr.Storage(err, "lock district %s", districtID)
	}
	return holder, nil
}

// lockStale reports whether a lock held by jobID and claimed at claimedAt
// may be dropped: its job record is gone and the claim predates cutoff.
func (s *Store) lockStale(ctx context.Context, c redis.Cmdable, jobID string, claimedAt, cutoff time.Time) (bool, error) {
	if claimedAt.After(cutoff) {
		return false, nil
	}
	n, err := c.Exists(ctx, schedule.JobKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Lock values are "{job_id}|{claimed_unix_ms}". A value without a claim
// time counts as claimed at the epoch.
func formatLock(jobID string, claimedAt time.Time) string {
	return jobID + "|" + strconv.FormatInt(claimedAt.UnixMilli(), 10)
}

func parseLock(raw string) (string, time.Time) {
	id, ms, ok := strings.Cut(raw, "|")
	if !ok {
		return raw, time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return id, time.Time{}
	}
	return id, time.UnixMilli(n).UTC()
}

// DistrictLockHolder returns the job id holding a district lock, or "".
func (s *Store) DistrictLockHolder(ctx context.Context, districtID string) (string, error) {
	raw, err := s.rdb.Get(ctx, schedule.DistrictLockKey(districtID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", apperr.Storage(err, "read district lock %s", districtID)
	}
	cur, _ := parseLock(raw)
	return cur, nil
}

// ReleaseDistrict drops the district lock only if jobID holds it.
func (s *Store) ReleaseDistrict(ctx context.Context, districtID, jobID string) error {
	lockKey := schedule.DistrictLockKey(districtID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, lockKey).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if cur, _ := parseLock(raw); cur != jobID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, lockKey)
			return nil
		})
		return err
	}, lockKey)
	if err != nil {
		return apperr.Storage(err, "release district %s", districtID)
	}
	return nil
}

// ReleaseStaleLocks deletes district locks whose owning job no longer exists
// and whose claim was taken before claimedBefore.
func (s *Store) ReleaseStaleLocks(ctx context.Context, claimedBefore time.Time) (int, error) {
	released := 0
	iter := s.rdb.Scan(ctx, 0, schedule.DistrictLockKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		districtID := key[len(schedule.DistrictLockKey("")):]
		var dropped bool
		err := s.watch(ctx, func(tx *redis.Tx) error {
			dropped = false
			raw, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			holder, claimedAt := parseLock(raw)
			stale, err := s.lockStale(ctx, tx, holder, claimedAt, claimedBefore)
			if err != nil || !stale {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			dropped = err == nil
			if dropped {
				s.log.Debug("released stale district lock", "district_id", districtID, "job_id", holder)
			}
			return err
		}, key)
		if err != nil {
			return released, apperr.Storage(err, "release stale lock %s", districtID)
		}
		if dropped {
			released++
		}
	}
	if err := iter.Err(); err != nil {
		return released, apperr.Storage(err, "scan district locks")
	}
	return released, nil
}

// GuardApply marks a job as being applied so a concurrent apply of the same
// job is refused. The returned release func clears the mark.
func (s *Store) GuardApply(ctx context.Context, jobID string, ttl time.Duration) (func(), bool, error) {
	key := "APPLYING#" + schedule.JobKey(jobID)
	ok, err := s.rdb.SetNX(ctx, key, s.now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return nil, false, apperr.Storage(err, "guard apply %s", jobID)
	}
	if !ok {
		return nil, false, nil
	}
	return func() { s.rdb.Del(context.WithoutCancel(ctx), key) }, true, nil
}

func (s *Store) ttlUntil(t time.Time) time.Duration {
	d := t.Sub(s.now())
	if d < minTTL {
		return minTTL
	}
	return d.Round(time.Second)
}
