package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aceteam-ai/paygrid/internal/schedule"
)

var (
	yearRe        = regexp.MustCompile(`(20\d{2})\s*[-–—/]\s*(20\d{2}|\d{2})\b`)
	monthPeriodRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*[- ]?\s*months?\b`)
	summerRe      = regexp.MustCompile(`(?i)\bsummer\b`)
	wholeYearRe   = regexp.MustCompile(`(?i)\b(full[\s-]?year|annual|yearly)\b`)
	amountRe      = regexp.MustCompile(`\$?\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d{4,6}(?:\.\d{1,2})?)\b`)
	stepRe        = regexp.MustCompile(`(?i)^\s*(?:step\s*)?(\d{1,2})(?:[.:)]|\s|$)`)
	stepOnlyRe    = regexp.MustCompile(`(?i)^\s*(?:step\s*)?(\d{1,2})[.:)]?\s*$`)
	headerTokRe   = regexp.MustCompile(`[A-Za-z][A-Za-z.'’]*(?:\s*\+\s*\d{1,3}|\d{1,3})?(?:\s*/\s*[A-Za-z][A-Za-z.'’]*(?:\s*\+\s*\d{1,3}|\d{1,3})?)*`)
)

// Amount bounds for a plausible annual or periodic salary figure.
const (
	minAmount = 1000
	maxAmount = 1000000
)

// ParseSchoolYear finds the first "2024-2025", "2024-25" or "2024/2025"
// label in s and returns it as "2024-2025".
func ParseSchoolYear(s string) (string, bool) {
	for _, m := range yearRe.FindAllStringSubmatch(s, -1) {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if len(m[2]) == 2 {
			end += start / 100 * 100
		}
		if end == start+1 {
			return schedule.SchoolYearLabel(start), true
		}
	}
	return "", false
}

// ParsePeriod maps a period qualifier in s to its token: "summer",
// "10-month" and so on. A qualifier meaning the whole year maps to
// schedule.WholeYearPeriod. Returns "" when s has none.
func ParsePeriod(s string) string {
	if summerRe.MatchString(s) {
		return "summer"
	}
	if m := monthPeriodRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 12 {
			return schedule.WholeYearPeriod
		}
		if n >= 1 {
			return strconv.Itoa(n) + "-month"
		}
	}
	if wholeYearRe.MatchString(s) {
		return schedule.WholeYearPeriod
	}
	return ""
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "", " ", "").Replace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < minAmount || v > maxAmount {
		return 0, false
	}
	return v, true
}

type column struct {
	lane   schedule.Lane
	center int
}

// parseHeader recognizes a schedule header line such as
// "Step   BA   BA+15   MA   MA+30   DOC".
func parseHeader(line string) ([]column, bool) {
	if len(amountRe.FindAllString(line, 2)) >= 2 {
		return nil, false
	}
	var (
		cols  []column
		other int
		seen  = make(map[schedule.Lane]bool)
	)
	for _, loc := range headerTokRe.FindAllStringIndex(line, -1) {
		lane, ok := schedule.LaneFromHeader(line[loc[0]:loc[1]])
		if !ok {
			other++
			continue
		}
		if seen[lane] {
			return nil, false
		}
		seen[lane] = true
		cols = append(cols, column{lane: lane, center: (loc[0] + loc[1]) / 2})
	}
	if len(cols) < 2 || other > len(cols)+2 {
		return nil, false
	}
	return cols, true
}

// singleLane reports whether line holds exactly one header token.
func singleLane(line string) (schedule.Lane, bool) {
	t := strings.TrimSpace(line)
	if t == "" {
		return schedule.Lane{}, false
	}
	loc := headerTokRe.FindStringIndex(t)
	if loc == nil || loc[0] != 0 || loc[1] != len(t) {
		return schedule.Lane{}, false
	}
	return schedule.LaneFromHeader(t)
}

type amountTok struct {
	value  float64
	center int
}

// parseRow reads "3   $45,120   46,800 ..." as step 3 and its amounts.
func parseRow(line string) (int, []amountTok, bool) {
	m := stepRe.FindStringSubmatchIndex(line)
	if m == nil {
		return 0, nil, false
	}
	step, _ := strconv.Atoi(line[m[2]:m[3]])
	if step < 1 || step > 99 {
		return 0, nil, false
	}
	offset := m[3]
	rest := line[offset:]
	var amts []amountTok
	for _, loc := range amountRe.FindAllStringSubmatchIndex(rest, -1) {
		v, ok := parseAmount(rest[loc[2]:loc[3]])
		if !ok {
			continue
		}
		amts = append(amts, amountTok{value: v, center: offset + (loc[2]+loc[3])/2})
	}
	if len(amts) == 0 {
		return 0, nil, false
	}
	return step, amts, true
}

// assign maps each amount to a column index. Equal counts map by position;
// fewer amounts than columns map to the nearest header by offset.
func assign(cols []column, amts []amountTok) ([]int, bool) {
	idx := make([]int, 0, len(amts))
	if len(amts) >= len(cols) {
		for i := range cols {
			idx = append(idx, i)
		}
		return idx, true
	}
	last := -1
	for _, a := range amts {
		best, bestDist := -1, 0
		for i, c := range cols {
			d := a.center - c.center
			if d < 0 {
				d = -d
			}
			if best < 0 || d < bestDist {
				best, bestDist = i, d
			}
		}
		if best <= last {
			return nil, false
		}
		idx = append(idx, best)
		last = best
	}
	return idx, true
}

type tableContext struct {
	year   string
	period string
}

// contextFor finds the school year and period of the table whose header is
// at line h: the nearest year label at or above the header, and a period
// qualifier between that label and the header.
func contextFor(lines []string, h int, fallbackYear string) tableContext {
	tc := tableContext{year: fallbackYear}
	yearLine := -1
	for i := h; i >= 0; i-- {
		if y, ok := ParseSchoolYear(lines[i]); ok {
			tc.year, yearLine = y, i
			break
		}
	}
	lo := yearLine
	if lo < 0 {
		lo = max(0, h-6)
	}
	for i := h; i >= lo; i-- {
		if p := ParsePeriod(lines[i]); p != "" {
			tc.period = p
			break
		}
	}
	if tc.period == "" {
		tc.period = schedule.WholeYearPeriod
	}
	return tc
}

func firstYear(lines []string) string {
	for _, l := range lines {
		if y, ok := ParseSchoolYear(l); ok {
			return y
		}
	}
	return ""
}

func newCell(tc tableContext, lane schedule.Lane, step int, amount float64) schedule.Cell {
	return schedule.Cell{
		SchoolYear: tc.year,
		Period:     tc.period,
		Education:  lane.Education,
		Credits:    lane.Credits,
		Step:       step,
		Amount:     schedule.RoundCents(amount),
	}
}

// parseLayoutTables reads column-aligned tables: a header line followed by
// one line per step.
func parseLayoutTables(lines []string, fallbackYear string) []schedule.Cell {
	var out []schedule.Cell
	for i := 0; i < len(lines); i++ {
		cols, ok := parseHeader(lines[i])
		if !ok {
			continue
		}
		tc := contextFor(lines, i, fallbackYear)

		var (
			rows, pre, misses int
			lastStep          int
			j                 = i + 1
		)
	scan:
		for ; j < len(lines); j++ {
			line := lines[j]
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, ok := parseHeader(line); ok {
				break
			}
			step, amts, ok := parseRow(line)
			if !ok || step <= lastStep {
				if rows == 0 {
					pre++
					if pre > 3 {
						break scan
					}
				} else {
					misses++
					if misses > 2 {
						break scan
					}
				}
				continue
			}
			idx, ok := assign(cols, amts)
			if !ok {
				continue
			}
			for k, ci := range idx {
				out = append(out, newCell(tc, cols[ci].lane, step, amts[k].value))
			}
			rows++
			misses = 0
			lastStep = step
		}
		i = j - 1
	}
	return out
}

// parseLineOriented reads tables whose values come one per line: the lane
// headers (on one line or stacked one per line), then a step number
// followed by that many amounts, repeated.
func parseLineOriented(lines []string, fallbackYear string) []schedule.Cell {
	var out []schedule.Cell
	for i := 0; i < len(lines); i++ {
		var lanes []schedule.Lane
		next := i + 1
		if cols, ok := parseHeader(lines[i]); ok {
			for _, c := range cols {
				lanes = append(lanes, c.lane)
			}
		} else {
			seen := make(map[schedule.Lane]bool)
			for next = i; next < len(lines); next++ {
				l, ok := singleLane(lines[next])
				if !ok || seen[l] {
					break
				}
				seen[l] = true
				lanes = append(lanes, l)
			}
			if len(lanes) < 2 {
				continue
			}
		}
		tc := contextFor(lines, i, fallbackYear)

		var (
			step, lastStep, misses int
			pending                []float64
			rows                   int
			j                      = next
		)
		flush := func() {
			if step > 0 && len(pending) == len(lanes) {
				for k, l := range lanes {
					out = append(out, newCell(tc, l, step, pending[k]))
				}
				rows++
				lastStep = step
			}
			step, pending = 0, nil
		}
	scan:
		for ; j < len(lines); j++ {
			line := lines[j]
			t := strings.TrimSpace(line)
			if t == "" {
				continue
			}
			if _, ok := parseHeader(line); ok {
				break
			}
			if m := stepOnlyRe.FindStringSubmatch(t); m != nil {
				n, _ := strconv.Atoi(m[1])
				if n > lastStep && n >= 1 {
					flush()
					step = n
					misses = 0
					continue
				}
			}
			var found bool
			for _, sm := range amountRe.FindAllStringSubmatch(t, -1) {
				if v, ok := parseAmount(sm[1]); ok && step > 0 && len(pending) < len(lanes) {
					pending = append(pending, v)
					found = true
				}
			}
			if found {
				if len(pending) == len(lanes) {
					flush()
				}
				continue
			}
			if rows > 0 || step > 0 {
				misses++
				if misses > 3 {
					break scan
				}
			}
		}
		flush()
		if rows > 0 {
			i = j - 1
		}
	}
	return out
}

// DetectPages returns the indexes of pages that look like they hold a
// compensation table: schedule keywords plus a lane header and either
// several step rows or many currency figures.
func DetectPages(pages []string) []int {
	var out []int
	for i, p := range pages {
		if !HasTableKeywords(p) {
			continue
		}
		lines := strings.Split(p, "\n")
		var header bool
		rows := 0
		stacked := 0
		for _, l := range lines {
			if _, ok := parseHeader(l); ok {
				header = true
			}
			if _, ok := singleLane(l); ok {
				stacked++
			}
			if _, amts, ok := parseRow(l); ok && len(amts) >= 2 {
				rows++
			}
		}
		if !header && stacked < 2 {
			continue
		}
		if rows >= 3 || len(amountRe.FindAllString(p, -1)) >= 10 {
			out = append(out, i)
		}
	}
	return out
}

// ParseText extracts cells from page texts. Each detected page is read
// with the layout parser, falling back to the line-oriented parser when the
// layout parser finds nothing.
func ParseText(pages []string) []schedule.Cell {
	docYear := ""
	for _, p := range pages {
		if docYear = firstYear(strings.Split(p, "\n")); docYear != "" {
			break
		}
	}

	var cells []schedule.Cell
	for _, i := range DetectPages(pages) {
		lines := strings.Split(pages[i], "\n")
		year := firstYear(lines)
		if year == "" {
			year = docYear
		}
		c := parseLayoutTables(lines, year)
		if len(c) == 0 {
			c = parseLineOriented(lines, year)
		}
		cells = append(cells, c...)
	}
	return dedupe(cells)
}

// parseGrid reads a table already split into cells, as returned by OCR
// table analysis.
func parseGrid(grid [][]string, tc tableContext) []schedule.Cell {
	header := -1
	lanes := make(map[int]schedule.Lane)
	for r, row := range grid {
		found := make(map[int]schedule.Lane)
		for c, text := range row {
			if l, ok := schedule.LaneFromHeader(text); ok {
				found[c] = l
			}
		}
		if len(found) >= 2 {
			header, lanes = r, found
			break
		}
	}
	if header < 0 {
		return nil
	}
	laneCols := make([]int, 0, len(lanes))
	for c := range lanes {
		laneCols = append(laneCols, c)
	}
	sort.Ints(laneCols)

	var out []schedule.Cell
	lastStep := 0
	for _, row := range grid[header+1:] {
		step := 0
		for c, text := range row {
			if _, isLane := lanes[c]; isLane {
				continue
			}
			if m := stepOnlyRe.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
				step, _ = strconv.Atoi(m[1])
				break
			}
		}
		if step < 1 || step <= lastStep {
			continue
		}
		var got bool
		for _, c := range laneCols {
			if c >= len(row) {
				continue
			}
			if v, ok := parseAmount(row[c]); ok {
				out = append(out, newCell(tc, lanes[c], step, v))
				got = true
			}
		}
		if got {
			lastStep = step
		}
	}
	return out
}

// dedupe keeps the first cell for each (year, period, lane, step).
func dedupe(cells []schedule.Cell) []schedule.Cell {
	type key struct {
		year, period string
		lane         schedule.Lane
		step         int
	}
	seen := make(map[key]bool, len(cells))
	out := cells[:0]
	for _, c := range cells {
		k := key{c.SchoolYear, c.Period, c.Lane(), c.Step}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
