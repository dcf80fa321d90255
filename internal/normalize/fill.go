package normalize

import (
	"fmt"
	"sort"

	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// group is the cells of one district in one (school year, period).
type group struct {
	scope schedule.Scope
	docs  []schedule.Cell
}

// groupByScope splits a district's cells by scope. Calculated cells are
// dropped: every run recomputes them from the document cells alone.
func groupByScope(cells []schedule.Cell) []group {
	idx := make(map[schedule.Scope]int)
	var out []group
	for _, c := range cells {
		if c.IsCalculated {
			continue
		}
		sc := c.Scope()
		i, ok := idx[sc]
		if !ok {
			i = len(out)
			idx[sc] = i
			out = append(out, group{scope: sc})
		}
		out[i].docs = append(out[i].docs, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].scope.String() < out[j].scope.String() })
	return out
}

// FillDown synthesizes the steps missing from each lane of one scope's
// document cells, over steps 1 through the highest step of the scope. A gap
// with known steps on both sides is interpolated linearly; a gap at either
// end carries the nearest known amount.
func FillDown(docs []schedule.Cell) []schedule.Cell {
	if len(docs) == 0 {
		return nil
	}
	maxStep := 0
	byLane := make(map[schedule.Lane]map[int]float64)
	for _, c := range docs {
		l := c.Lane()
		if byLane[l] == nil {
			byLane[l] = make(map[int]float64)
		}
		byLane[l][c.Step] = c.Amount
		maxStep = max(maxStep, c.Step)
	}
	tmpl := docs[0]

	lanes := make([]schedule.Lane, 0, len(byLane))
	for l := range byLane {
		lanes = append(lanes, l)
	}
	schedule.SortLanes(lanes)

	var out []schedule.Cell
	for _, l := range lanes {
		known := byLane[l]
		steps := make([]int, 0, len(known))
		for s := range known {
			steps = append(steps, s)
		}
		sort.Ints(steps)

		for s := 1; s <= maxStep; s++ {
			if _, ok := known[s]; ok {
				continue
			}
			// steps[i] is the first known step above s
			i := sort.SearchInts(steps, s)
			var amount float64
			var from string
			switch {
			case i == 0:
				amount, from = known[steps[0]], fmt.Sprintf("%s#%d", l, steps[0])
			case i == len(steps):
				lo := steps[len(steps)-1]
				amount, from = known[lo], fmt.Sprintf("%s#%d", l, lo)
			default:
				lo, hi := steps[i-1], steps[i]
				a, b := known[lo], known[hi]
				amount = a + (b-a)*float64(s-lo)/float64(hi-lo)
				from = fmt.Sprintf("%s#%d-%d", l, lo, hi)
			}
			out = append(out, synth(tmpl, l, s, amount, "fill-down:"+from))
		}
	}
	return out
}

// FillRight synthesizes, at every step present in base, the globally known
// lanes the scope lacks. Each value is copied from the nearest present lane
// at the same step. base is the scope's document cells plus its fill-down
// cells; nothing FillRight returns is used as a source.
func FillRight(base []schedule.Cell, known []schedule.Lane) []schedule.Cell {
	if len(base) == 0 || len(known) == 0 {
		return nil
	}
	atStep := make(map[int]map[schedule.Lane]float64)
	for _, c := range base {
		if atStep[c.Step] == nil {
			atStep[c.Step] = make(map[schedule.Lane]float64)
		}
		atStep[c.Step][c.Lane()] = c.Amount
	}
	steps := make([]int, 0, len(atStep))
	for s := range atStep {
		steps = append(steps, s)
	}
	sort.Ints(steps)

	targets := append([]schedule.Lane(nil), known...)
	schedule.SortLanes(targets)
	tmpl := base[0]

	var out []schedule.Cell
	for _, s := range steps {
		present := atStep[s]
		avail := make([]schedule.Lane, 0, len(present))
		for l := range present {
			avail = append(avail, l)
		}
		schedule.SortLanes(avail)
		for _, target := range targets {
			if _, ok := present[target]; ok {
				continue
			}
			src, ok := schedule.NearestLane(target, avail)
			if !ok {
				continue
			}
			out = append(out, synth(tmpl, target, s, present[src], fmt.Sprintf("fill-right:%s#%d", src, s)))
		}
	}
	return out
}

func synth(tmpl schedule.Cell, l schedule.Lane, step int, amount float64, from string) schedule.Cell {
	return schedule.Cell{
		DistrictID:     tmpl.DistrictID,
		SchoolYear:     tmpl.SchoolYear,
		Period:         tmpl.Period,
		Education:      l.Education,
		Credits:        l.Credits,
		Step:           step,
		Amount:         schedule.RoundCents(amount),
		IsCalculated:   true,
		CalculatedFrom: from,
	}
}
