package query

import (
	"context"
	"fmt"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

// LookupRequest addresses one value of one district.
type LookupRequest struct {
	DistrictID string
	Year       string
	Period     string
	Education  string
	Credits    int
	Step       int
}

// LookupResult is a single value. Fallback is set when the district has no
// value at the requested lane and SourceLane was used instead.
type LookupResult struct {
	DistrictID   string         `json:"district_id"`
	Scope        schedule.Scope `json:"scope"`
	Lane         schedule.Lane  `json:"lane"`
	Step         int            `json:"step"`
	Amount       float64        `json:"amount"`
	IsCalculated bool           `json:"is_calculated"`
	Fallback     bool           `json:"fallback"`
	SourceLane   *schedule.Lane `json:"source_lane,omitempty"`
}

func (r LookupRequest) parse() (schedule.Scope, schedule.Lane, error) {
	if r.DistrictID == "" {
		return schedule.Scope{}, schedule.Lane{}, apperr.Validation("district id is required")
	}
	if !schedule.ValidSchoolYear(r.Year) {
		return schedule.Scope{}, schedule.Lane{}, apperr.Validation("school year %q is not YYYY-YYYY", r.Year)
	}
	if r.Step < 1 {
		return schedule.Scope{}, schedule.Lane{}, apperr.Validation("step must be positive")
	}
	lane, err := laneOf(r.Education, r.Credits)
	if err != nil {
		return schedule.Scope{}, schedule.Lane{}, err
	}
	period := r.Period
	if period == "" {
		period = schedule.WholeYearPeriod
	}
	return schedule.Scope{SchoolYear: r.Year, Period: period}, lane, nil
}

// LookupDistrictValue returns the exact cell when the district has one and
// otherwise the FallbackLookup answer.
func (s *Service) LookupDistrictValue(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	scope, lane, err := req.parse()
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s%s#%s#%s#%d", lookupPrefix, req.DistrictID, scope.String(), lane.String(), req.Step)
	if r, ok := s.lookups.Get(key); ok {
		return r, nil
	}
	gen := s.lookups.Generation()

	c, err := s.store.GetCell(ctx, req.DistrictID, scope, lane, req.Step)
	if err != nil {
		return nil, err
	}
	var res *LookupResult
	if c != nil {
		res = &LookupResult{
			DistrictID: req.DistrictID, Scope: scope, Lane: lane, Step: req.Step,
			Amount: c.Amount, IsCalculated: c.IsCalculated,
		}
	} else {
		res, err = s.fallback(ctx, req.DistrictID, scope, lane, req.Step)
		if err != nil {
			return nil, err
		}
	}
	s.fill(func() bool { return s.lookups.SetIfCurrent(key, res, gen) }, key)
	return res, nil
}

// FallbackLookup reads the district's full lane/step set for the scope and
// answers with the closest available lane at the same step, using the
// same adjacency order as normalization. The result is marked Fallback
// unless the exact lane was present.
func (s *Service) FallbackLookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	scope, lane, err := req.parse()
	if err != nil {
		return nil, err
	}
	return s.fallback(ctx, req.DistrictID, scope, lane, req.Step)
}

func (s *Service) fallback(ctx context.Context, districtID string, scope schedule.Scope, lane schedule.Lane, step int) (*LookupResult, error) {
	entries, err := s.store.DistrictScope(ctx, districtID, scope)
	if err != nil {
		return nil, err
	}
	res := &LookupResult{DistrictID: districtID, Scope: scope, Lane: lane, Step: step}
	if e, ok := entries[store.LaneStep{Lane: lane, Step: step}]; ok {
		res.Amount, res.IsCalculated = e.Amount, e.IsCalculated
		return res, nil
	}

	var lanes []schedule.Lane
	for ls := range entries {
		if ls.Step == step {
			lanes = append(lanes, ls.Lane)
		}
	}
	src, ok := schedule.NearestLane(lane, lanes)
	if !ok {
		return nil, apperr.NotFound("district %s has no value at step %d in %s", districtID, step, scope)
	}
	e := entries[store.LaneStep{Lane: src, Step: step}]
	res.Amount, res.IsCalculated = e.Amount, e.IsCalculated
	res.Fallback = true
	res.SourceLane = &src
	s.log.Debug("lookup answered by fallback", "district_id", districtID, "lane", lane.String(), "source", src.String(), "step", step)
	return res, nil
}
