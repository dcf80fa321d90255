// Package selector reduces a raw extraction to the school years and pay
// periods that matter today.
package selector

import (
	"sort"
	"time"

	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// CurrentSchoolYear returns the label of the school year containing now.
// July through December of year Y belong to Y-(Y+1); January through June
// belong to (Y-1)-Y.
func CurrentSchoolYear(now time.Time) string {
	return schedule.SchoolYearLabel(currentStart(now))
}

func currentStart(now time.Time) int {
	if now.Month() >= time.July {
		return now.Year()
	}
	return now.Year() - 1
}

// Select keeps every current or future school year when one exists, and
// otherwise only the most recent past year. Within each kept year only the
// lexicographically greatest period token survives. When no cell carries a
// parseable school year the input is returned unchanged. Cells with an
// unparseable year are dropped whenever filtering applies.
func Select(cells []schedule.Cell, now time.Time) []schedule.Cell {
	cur := currentStart(now)

	years := make(map[int]bool)
	for _, c := range cells {
		if start, ok := schedule.SchoolYearStart(c.SchoolYear); ok {
			years[start] = true
		}
	}
	if len(years) == 0 {
		return cells
	}

	keep := make(map[int]bool)
	latestPast := -1
	for y := range years {
		if y >= cur {
			keep[y] = true
		} else if y > latestPast {
			latestPast = y
		}
	}
	if len(keep) == 0 {
		keep[latestPast] = true
	}

	period := make(map[int]string)
	for _, c := range cells {
		start, ok := schedule.SchoolYearStart(c.SchoolYear)
		if !ok || !keep[start] {
			continue
		}
		if c.Period > period[start] {
			period[start] = c.Period
		}
	}

	out := make([]schedule.Cell, 0, len(cells))
	for _, c := range cells {
		start, ok := schedule.SchoolYearStart(c.SchoolYear)
		if !ok || !keep[start] || c.Period != period[start] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Years lists the distinct school years present in cells, sorted.
func Years(cells []schedule.Cell) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cells {
		if c.SchoolYear != "" && !seen[c.SchoolYear] {
			seen[c.SchoolYear] = true
			out = append(out, c.SchoolYear)
		}
	}
	sort.Strings(out)
	return out
}
