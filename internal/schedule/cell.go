// Package schedule holds the compensation data model shared by the
// extractor, the orchestrator, the normalizer and the query layer.
//
// A salary schedule is a grid: each column is a Lane (education level plus
// additional credits) and each row is a Step. One Cell is one amount in that
// grid for a district, school year and pay period.
package schedule

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Education is the degree component of a lane.
type Education string

const (
	Bachelors Education = "Bachelor's"
	Masters   Education = "Master's"
	Doctorate Education = "Doctorate"
)

// educationOrder ranks education levels from lowest to highest.
var educationOrder = map[Education]int{
	Bachelors: 0,
	Masters:   1,
	Doctorate: 2,
}

// Valid reports whether e is one of the known education levels.
func (e Education) Valid() bool {
	_, ok := educationOrder[e]
	return ok
}

// Rank returns the position of e in Bachelor's < Master's < Doctorate.
func (e Education) Rank() int {
	if r, ok := educationOrder[e]; ok {
		return r
	}
	return -1
}

// ParseEducation accepts the canonical names plus short codes.
func ParseEducation(s string) (Education, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bachelor's", "bachelors", "bachelor", "ba", "bs", "b":
		return Bachelors, nil
	case "master's", "masters", "master", "ma", "ms", "m":
		return Masters, nil
	case "doctorate", "doctoral", "doc", "phd", "edd", "d":
		return Doctorate, nil
	}
	return "", fmt.Errorf("unknown education level %q", s)
}

// WholeYearPeriod is the canonical period token for a full school year.
const WholeYearPeriod = "full-year"

// Cell is one (district, school year, period, lane, step) to amount mapping.
type Cell struct {
	DistrictID     string    `json:"district_id"`
	SchoolYear     string    `json:"school_year"`
	Period         string    `json:"period"`
	Education      Education `json:"education"`
	Credits        int       `json:"credits"`
	Step           int       `json:"step"`
	Amount         float64   `json:"amount"`
	IsCalculated   bool      `json:"is_calculated"`
	CalculatedFrom string    `json:"calculated_from,omitempty"`
}

// Lane returns the cell's column.
func (c Cell) Lane() Lane {
	return Lane{Education: c.Education, Credits: c.Credits}
}

// Scope returns the (year, period) slice of a district schedule the cell belongs to.
func (c Cell) Scope() Scope {
	return Scope{SchoolYear: c.SchoolYear, Period: c.Period}
}

// Validate checks the fields required to store the cell.
func (c Cell) Validate() error {
	switch {
	case c.DistrictID == "":
		return fmt.Errorf("cell missing district id")
	case !ValidSchoolYear(c.SchoolYear):
		return fmt.Errorf("cell has invalid school year %q", c.SchoolYear)
	case c.Period == "":
		return fmt.Errorf("cell missing period")
	case !c.Education.Valid():
		return fmt.Errorf("cell has unknown education %q", c.Education)
	case c.Credits < 0 || c.Credits > 999:
		return fmt.Errorf("cell credits %d out of range", c.Credits)
	case c.Step < 1 || c.Step > 99:
		return fmt.Errorf("cell step %d out of range", c.Step)
	case c.Amount <= 0 || math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0):
		return fmt.Errorf("cell amount %v is not a positive number", c.Amount)
	}
	return nil
}

// Scope is a (school year, period) pair.
type Scope struct {
	SchoolYear string `json:"school_year"`
	Period     string `json:"period"`
}

func (s Scope) String() string {
	return s.SchoolYear + "#" + s.Period
}

// ParseScope reverses Scope.String.
func ParseScope(s string) (Scope, bool) {
	year, period, ok := strings.Cut(s, "#")
	if !ok || year == "" || period == "" {
		return Scope{}, false
	}
	return Scope{SchoolYear: year, Period: period}, true
}

var schoolYearRe = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// ValidSchoolYear reports whether s is a "YYYY-YYYY" label with consecutive years.
func ValidSchoolYear(s string) bool {
	_, ok := SchoolYearStart(s)
	return ok
}

// SchoolYearStart returns the first calendar year of a "YYYY-YYYY" label.
func SchoolYearStart(s string) (int, bool) {
	m := schoolYearRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if end != start+1 {
		return 0, false
	}
	return start, true
}

// SchoolYearLabel formats the school year starting in the given calendar year.
func SchoolYearLabel(start int) string {
	return fmt.Sprintf("%d-%d", start, start+1)
}

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
