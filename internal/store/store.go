// Package store is the keyed store behind the salary schedule engine.
//
// Everything lives in Redis:
//
//   - a district partition (hash of sort key to cell, plus a lexicographic
//     sorted set of its sort keys for prefix range reads)
//   - Index A, one sorted set per (year, period, lane, step) scored by amount,
//     so a descending rank across districts is a single ZREVRANGE
//   - Index B, one hash per (year, period, district) holding the district's
//     full lane/step set for fallback lookups
//   - extraction jobs and district locks with native expiry
//   - global metadata records and the normalization running marker, taken
//     with SET NX
//
// Writes that must be all-or-nothing run under WATCH/MULTI.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries on a contended key.
const maxTxRetries = 8

// Store wraps a Redis client with the engine's data access operations.
type Store struct {
	rdb *redis.Client
	log *slog.Logger
	now func() time.Time

	// claimGrace protects a fresh district claim whose job record has not
	// been written yet.
	claimGrace time.Duration

	// commitHook is called for each cell queued in an atomic replace; a
	// non-nil error aborts the transaction before EXEC.
	commitHook func(n int) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithClaimGrace sets how long a district claim survives without its job
// record (default: DefaultClaimGrace).
func WithClaimGrace(d time.Duration) Option {
	return func(s *Store) { s.claimGrace = d }
}

// DefaultClaimGrace covers a document upload between a district claim and
// the job record write.
const DefaultClaimGrace = 10 * time.Minute

// New wraps an existing client.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, log: slog.Default(), now: time.Now, claimGrace: DefaultClaimGrace}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial parses a redis:// URL, applies the password override and verifies
// the connection.
func Dial(ctx context.Context, redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// MaskURL hides the password in a Redis URL for logging.
func MaskURL(redisURL string) string {
	u, err := url.Parse(redisURL)
	if err != nil {
		if strings.HasPrefix(redisURL, "redis://") {
			return "redis://***"
		}
		return "***"
	}
	if _, hasPass := u.User.Password(); hasPass {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// Client exposes the underlying Redis client for components sharing the connection.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// watch runs fn under WATCH on keys, retrying when a watched key changes.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("optimistic transaction retry", "keys", keys, "attempt", i+1)
			continue
		}
		return err
	}
	return fmt.Errorf("transaction on %v: %w", keys, redis.TxFailedErr)
}
