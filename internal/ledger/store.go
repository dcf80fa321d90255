// Package ledger keeps a local SQLite history of applies, rejects,
// rollbacks, normalization runs and extraction attempts.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    kind          TEXT NOT NULL,
    job_id        TEXT NOT NULL,
    district_id   TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    count         INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    backup_key    TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '',
    started_at    TEXT NOT NULL,
    completed_at  TEXT NOT NULL,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    synced        INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (kind, job_id, status)
);
CREATE INDEX IF NOT EXISTS idx_activity_district ON activity(district_id, id);
CREATE INDEX IF NOT EXISTS idx_activity_synced ON activity(synced) WHERE synced = 0;
`

const columns = `id, kind, job_id, district_id, status, count, error_message,
       backup_key, detail, started_at, completed_at, duration_ms, synced`

// Store provides SQLite-backed storage for ledger entries.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the ledger database at dbPath and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	// WAL lets history reads run while the worker writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert stores an entry. A repeated (kind, job_id, status) is ignored, so
// redelivered work does not produce duplicate history.
func (s *Store) Insert(e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt
	}
	if e.DurationMs == 0 {
		e.DurationMs = e.CompletedAt.Sub(e.StartedAt).Milliseconds()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO activity (
			kind, job_id, district_id, status, count, error_message,
			backup_key, detail, started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.JobID, e.DistrictID, e.Status, e.Count, e.ErrorMessage,
		e.BackupKey, e.Detail,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.CompletedAt.UTC().Format(time.RFC3339Nano), e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	DistrictID string
	Kinds      []Kind
	// WithBackup keeps only entries that recorded a backup.
	WithBackup bool
	Limit      int
}

// List returns entries newest first.
func (s *Store) List(f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.DistrictID != "" {
		where = append(where, "district_id = ?")
		args = append(args, f.DistrictID)
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ",")+")")
	}
	if f.WithBackup {
		where = append(where, "backup_key != ''")
	}
	q := "SELECT " + columns + " FROM activity"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.query(q, args...)
}

// QueryUnsynced returns up to limit entries that have not been published.
func (s *Store) QueryUnsynced(limit int) ([]Entry, error) {
	return s.query("SELECT "+columns+" FROM activity WHERE synced = 0 ORDER BY id ASC LIMIT ?", limit)
}

func (s *Store) query(q string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			kind                   string
			startedAt, completedAt string
			synced                 int
		)
		if err := rows.Scan(
			&e.ID, &kind, &e.JobID, &e.DistrictID, &e.Status, &e.Count, &e.ErrorMessage,
			&e.BackupKey, &e.Detail, &startedAt, &completedAt, &e.DurationMs, &synced,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Kind = Kind(kind)
		e.Synced = synced != 0
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			e.CompletedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkSynced sets the synced flag for the given entry IDs.
func (s *Store) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE activity SET synced = 1 WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("mark synced id=%d: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
