package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Key layout of the keyed store. Partition and sort keys are bit-exact with
// the layout other consumers of the dataset read.

// PartitionKey is the cell partition for a district.
func PartitionKey(districtID string) string {
	return "DISTRICT#" + districtID
}

// PartitionIndexKey is the lexicographic sorted set of a partition's sort keys.
func PartitionIndexKey(districtID string) string {
	return PartitionKey(districtID) + "#SK"
}

// SortKey is the cell sort key within a district partition.
func SortKey(c Cell) string {
	return fmt.Sprintf("SCHEDULE#%s#%s#EDU#%s#CR#%03d#STEP#%02d",
		c.SchoolYear, c.Period, c.Education, c.Credits, c.Step)
}

// SortKeyPrefix returns the range prefix for a year, or a year and period.
// An empty year selects the whole partition.
func SortKeyPrefix(year, period string) string {
	switch {
	case year == "":
		return "SCHEDULE#"
	case period == "":
		return "SCHEDULE#" + year + "#"
	default:
		return "SCHEDULE#" + year + "#" + period + "#"
	}
}

// ParseSortKey recovers the key tuple from a sort key.
func ParseSortKey(sk string) (Cell, error) {
	parts := strings.Split(sk, "#")
	// SCHEDULE year period EDU edu CR credits STEP step
	if len(parts) != 9 || parts[0] != "SCHEDULE" || parts[3] != "EDU" || parts[5] != "CR" || parts[7] != "STEP" {
		return Cell{}, fmt.Errorf("malformed sort key %q", sk)
	}
	credits, err := strconv.Atoi(parts[6])
	if err != nil {
		return Cell{}, fmt.Errorf("malformed credits in %q", sk)
	}
	step, err := strconv.Atoi(parts[8])
	if err != nil {
		return Cell{}, fmt.Errorf("malformed step in %q", sk)
	}
	return Cell{
		SchoolYear: parts[1],
		Period:     parts[2],
		Education:  Education(parts[4]),
		Credits:    credits,
		Step:       step,
	}, nil
}

// ComparisonKey is the Index A key for one lane and step in a scope.
func ComparisonKey(year, period string, lane Lane, step int) string {
	return fmt.Sprintf("IDXA#%s#%s#%s#%03d#STEP#%02d", year, period, lane.Education, lane.Credits, step)
}

// ComparisonMetaKey holds per-district flags for an Index A entry.
func ComparisonMetaKey(year, period string, lane Lane, step int) string {
	return ComparisonKey(year, period, lane, step) + "#META"
}

// DistrictScopeKey is the Index B key holding a district's full lane/step set for a scope.
func DistrictScopeKey(year, period, districtID string) string {
	return fmt.Sprintf("IDXB#%s#%s#DISTRICT#%s", year, period, districtID)
}

// LaneStepField is the Index B field for a lane and step.
func LaneStepField(lane Lane, step int) string {
	return fmt.Sprintf("EDU#%s#CR#%03d#STEP#%02d", lane.Education, lane.Credits, step)
}

// ParseLaneStepField reverses LaneStepField.
func ParseLaneStepField(f string) (Lane, int, error) {
	parts := strings.Split(f, "#")
	if len(parts) != 6 || parts[0] != "EDU" || parts[2] != "CR" || parts[4] != "STEP" {
		return Lane{}, 0, fmt.Errorf("malformed lane field %q", f)
	}
	credits, err := strconv.Atoi(parts[3])
	if err != nil {
		return Lane{}, 0, fmt.Errorf("malformed credits in %q", f)
	}
	step, err := strconv.Atoi(parts[5])
	if err != nil {
		return Lane{}, 0, fmt.Errorf("malformed step in %q", f)
	}
	return Lane{Education: Education(parts[1]), Credits: credits}, step, nil
}

// JobKey is the auto-expiring job record key.
func JobKey(jobID string) string {
	return "JOB#" + jobID
}

// DistrictLockKey marks a district as having an unresolved job.
func DistrictLockKey(districtID string) string {
	return "LOCK#DISTRICT#" + districtID
}

// Fixed metadata keys.
const (
	MaxValuesKey            = "METADATA#MAXVALUES"
	NormalizationStatusKey  = "METADATA#NORMALIZATION"
	RunningNormalizationKey = "NORMALIZATION_JOB#RUNNING"
	NormalizationJobsKey    = "NORMALIZATION_JOBS"
	DistrictsKey            = "DISTRICTS"
	ScopesKey               = "SCOPES"
)

// NormalizationJobKey is a terminal normalization job record.
func NormalizationJobKey(jobID string) string {
	return "NORMALIZATION_JOB#" + jobID
}
