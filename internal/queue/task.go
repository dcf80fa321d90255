package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aceteam-ai/paygrid/internal/apperr"
)

// Task types.
const (
	TaskExtract   = "extract"
	TaskNormalize = "normalize"
)

// Task is the payload of a queued message.
type Task struct {
	JobID          string `json:"job_id"`
	Type           string `json:"type"`
	DistrictID     string `json:"district_id,omitempty"`
	SourceLocation string `json:"source_location,omitempty"`
}

// ExtractTask builds the message for one uploaded document.
func ExtractTask(jobID, districtID, sourceLocation string) Task {
	return Task{JobID: jobID, Type: TaskExtract, DistrictID: districtID, SourceLocation: sourceLocation}
}

// NormalizeTask builds the message for a normalization run.
func NormalizeTask(jobID string) Task {
	return Task{JobID: jobID, Type: TaskNormalize}
}

const taskSchema = `{
  "type": "object",
  "required": ["job_id", "type"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "type": {"enum": ["extract", "normalize"]},
    "district_id": {"type": "string"},
    "source_location": {"type": "string"}
  },
  "if": {"properties": {"type": {"const": "extract"}}},
  "then": {
    "required": ["district_id", "source_location"],
    "properties": {
      "district_id": {"minLength": 1},
      "source_location": {"minLength": 1}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("task.json", strings.NewReader(taskSchema)); err != nil {
			schemaErr = fmt.Errorf("add task schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("task.json")
	})
	return schema, schemaErr
}

// ValidateTask checks a raw task payload against the message schema.
func ValidateTask(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile task schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return apperr.Validation("task payload is not json: %v", err)
	}
	if err := sch.Validate(v); err != nil {
		return apperr.Validation("task payload does not match schema: %v", err)
	}
	return nil
}
