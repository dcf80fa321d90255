package ledger

import "time"

// Kind classifies a ledger entry.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindApply      Kind = "apply"
	KindReject     Kind = "reject"
	KindRollback   Kind = "rollback"
	KindNormalize  Kind = "normalize"
	KindDeadLetter Kind = "dead_letter"
)

// Entry records one engine outcome.
type Entry struct {
	// Database ID (set on read)
	ID int64 `json:"id"`

	Kind       Kind   `json:"kind"`
	JobID      string `json:"job_id"`
	DistrictID string `json:"district_id,omitempty"`

	// Outcome
	Status       string `json:"status"` // "success", "failed", "retry"
	Count        int    `json:"count"`
	ErrorMessage string `json:"error_message,omitempty"`

	// BackupKey is the blob holding the cells an apply or rollback replaced.
	BackupKey string `json:"backup_key,omitempty"`
	Detail    string `json:"detail,omitempty"`

	// Timing
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	Synced bool `json:"-"`
}
