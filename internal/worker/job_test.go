package worker

import (
	"testing"

	"github.com/aceteam-ai/paygrid/internal/queue"
)

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   string
	}{
		{"success status", JobStatusSuccess, "success"},
		{"failure status", JobStatusFailure, "failure"},
		{"retry status", JobStatusRetry, "retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("JobStatus = %v, want %v", tt.status, tt.want)
			}
		})
	}
}

func TestJobTypesMatchTaskTypes(t *testing.T) {
	if JobTypeExtract != queue.TaskExtract || JobTypeNormalize != queue.TaskNormalize {
		t.Errorf("job types %q/%q do not match task types", JobTypeExtract, JobTypeNormalize)
	}
}
