package schedule

import (
	"sort"
	"time"
)

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Unresolved reports whether a job in this state still holds its district.
func (s JobStatus) Unresolved() bool {
	return s == JobPending || s == JobProcessing || s == JobCompleted
}

// ExtractionJob tracks one upload from intake to apply or reject.
type ExtractionJob struct {
	JobID             string    `json:"job_id"`
	DistrictID        string    `json:"district_id"`
	Status            JobStatus `json:"status"`
	Filename          string    `json:"filename"`
	SourceLocation    string    `json:"source_location"`
	ExtractedLocation string    `json:"extracted_location,omitempty"`
	SchoolYearHint    string    `json:"school_year_hint,omitempty"`
	MethodUsed        string    `json:"method_used,omitempty"`
	RecordCount       int       `json:"record_count"`
	YearsFound        []string  `json:"years_found"`
	Attempts          int       `json:"attempts"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// NormalizationStatus is the global "re-normalization owed" record.
type NormalizationStatus struct {
	NeedsNormalization bool      `json:"needs_normalization"`
	LastNormalizedAt   time.Time `json:"last_normalized_at,omitempty"`
	LastJobID          string    `json:"last_job_id,omitempty"`
}

// NormalizationJobStatus is the state of a normalization run.
type NormalizationJobStatus string

const (
	NormalizationRunning   NormalizationJobStatus = "running"
	NormalizationCompleted NormalizationJobStatus = "completed"
	NormalizationFailed    NormalizationJobStatus = "failed"
)

// NormalizationJob records one normalization run.
type NormalizationJob struct {
	JobID          string                 `json:"job_id"`
	Status         NormalizationJobStatus `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
	FailedAt       time.Time              `json:"failed_at,omitempty"`
	RecordsCreated int                    `json:"records_created"`
	FilledDown     int                    `json:"filled_down"`
	FilledRight    int                    `json:"filled_right"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
}

// MaxValuesMetadata describes the valid combination space of the dataset.
type MaxValuesMetadata struct {
	MaxStep         int      `json:"max_step"`
	EduCreditCombos []string `json:"edu_credit_combos"`
}

// Lanes parses the combos, skipping tokens that no longer parse.
func (m MaxValuesMetadata) Lanes() []Lane {
	lanes := make([]Lane, 0, len(m.EduCreditCombos))
	for _, tok := range m.EduCreditCombos {
		if l, err := ParseLane(tok); err == nil {
			lanes = append(lanes, l)
		}
	}
	SortLanes(lanes)
	return lanes
}

// Merge folds cells into the metadata and reports whether the combination
// space grew (a higher max step or a lane never seen before).
func (m *MaxValuesMetadata) Merge(cells []Cell) bool {
	known := make(map[string]bool, len(m.EduCreditCombos))
	for _, tok := range m.EduCreditCombos {
		known[tok] = true
	}
	grew := false
	for _, c := range cells {
		if c.Step > m.MaxStep {
			m.MaxStep = c.Step
			grew = true
		}
		tok := c.Lane().String()
		if !known[tok] {
			known[tok] = true
			m.EduCreditCombos = append(m.EduCreditCombos, tok)
			grew = true
		}
	}
	if grew {
		sort.Strings(m.EduCreditCombos)
	}
	return grew
}
