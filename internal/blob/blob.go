// Package blob stores uploaded contracts, staged extraction results and
// apply backups by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Object describes a stored blob.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat keyed blob store.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	// Location renders the key as the URI recorded on jobs and task messages.
	Location(key string) string
	// KeyOf reverses Location.
	KeyOf(location string) (string, error)
}

// Key prefixes.
const (
	UploadsPrefix   = "uploads/"
	StagedPrefix    = "staged/"
	BackupsPrefix   = "backups/"
	ContractsPrefix = "contracts/"
)

// UploadKey is where the source document of a job is kept until apply or reject.
func UploadKey(districtID, jobID, filename string) string {
	return UploadsPrefix + districtID + "/" + jobID + "/" + sanitize(filename)
}

// StagedKey is where a job's filtered extraction result is kept.
func StagedKey(jobID string) string {
	return StagedPrefix + jobID + ".json"
}

// BackupKey is where a district's pre-apply cell set is kept.
func BackupKey(districtID, jobID string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s-%s.json", BackupsPrefix, districtID, at.UTC().Format("20060102T150405Z"), jobID)
}

// ContractKey is where an applied job's source document is archived.
func ContractKey(districtID, jobID, filename string) string {
	return ContractsPrefix + districtID + "/" + jobID + "-" + sanitize(filename)
}

// JobIDFromKey extracts the job id from an uploads/ or staged/ key.
func JobIDFromKey(key string) (string, bool) {
	switch {
	case strings.HasPrefix(key, StagedPrefix):
		return strings.TrimSuffix(strings.TrimPrefix(key, StagedPrefix), ".json"), true
	case strings.HasPrefix(key, UploadsPrefix):
		parts := strings.Split(strings.TrimPrefix(key, UploadsPrefix), "/")
		if len(parts) >= 2 {
			return parts[1], true
		}
	}
	return "", false
}

func sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
