// Package query answers schedule reads: a district's full schedule, a
// cross-district ranking for one lane and step, and single value lookups
// that fall back to the nearest lane when a district lacks the exact one.
//
// Results are cached briefly. Every write path invalidates the prefixes
// returned by StalePrefixes (or everything, after normalization).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/cache"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Cache key prefixes.
const (
	schedulePrefix = "schedule#"
	lookupPrefix   = "lookup#"
	comparePrefix  = "compare#"
)

// StalePrefixes lists the cache prefixes a write to districtID's cells in
// the given scopes makes stale.
func StalePrefixes(districtID string, scopes []schedule.Scope) []string {
	out := []string{schedulePrefix + districtID + "#", lookupPrefix + districtID + "#"}
	for _, sc := range scopes {
		out = append(out, comparePrefix+sc.String()+"#")
	}
	return out
}

// AllPrefixes invalidates every cached read.
func AllPrefixes() []string { return []string{""} }

// Config tunes the read cache.
type Config struct {
	CacheTTL  time.Duration
	CacheSize int
}

// Service implements the read operations.
type Service struct {
	store     *store.Store
	schedules *cache.Cache[[]schedule.Cell]
	compares  *cache.Cache[*Comparison]
	lookups   *cache.Cache[*LookupResult]
	log       *slog.Logger

	// afterRead runs between a store read and the cache fill.
	afterRead func()
}

// New creates a query service. A zero CacheTTL disables caching.
func New(st *store.Store, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     st,
		schedules: cache.New[[]schedule.Cell](cfg.CacheTTL, cfg.CacheSize),
		compares:  cache.New[*Comparison](cfg.CacheTTL, cfg.CacheSize),
		lookups:   cache.New[*LookupResult](cfg.CacheTTL, cfg.CacheSize),
		log:       log,
	}
}

// InvalidatePrefix drops cached results under prefix from every cache.
func (s *Service) InvalidatePrefix(prefix string) int {
	return s.schedules.InvalidatePrefix(prefix) +
		s.compares.InvalidatePrefix(prefix) +
		s.lookups.InvalidatePrefix(prefix)
}

var _ cache.Target = (*Service)(nil)

// fill caches a freshly read result unless an invalidation ran while it
// was being read.
func (s *Service) fill(set func() bool, key string) {
	if s.afterRead != nil {
		s.afterRead()
	}
	if !set() {
		s.log.Debug("skipped cache fill after invalidation", "key", key)
	}
}

// GetDistrictSchedule returns a district's cells verbatim, optionally
// narrowed to a year or a year and period.
func (s *Service) GetDistrictSchedule(ctx context.Context, districtID, year, period string) ([]schedule.Cell, error) {
	if districtID == "" {
		return nil, apperr.Validation("district id is required")
	}
	if year != "" && !schedule.ValidSchoolYear(year) {
		return nil, apperr.Validation("school year %q is not YYYY-YYYY", year)
	}
	if period != "" && year == "" {
		return nil, apperr.Validation("period filter needs a school year")
	}

	key := schedulePrefix + districtID + "#" + year + "#" + period
	if cells, ok := s.schedules.Get(key); ok {
		return cells, nil
	}
	gen := s.schedules.Generation()
	cells, err := s.store.DistrictCells(ctx, districtID, year, period)
	if err != nil {
		return nil, err
	}
	if cells == nil {
		cells = []schedule.Cell{}
	}
	s.fill(func() bool { return s.schedules.SetIfCurrent(key, cells, gen) }, key)
	return cells, nil
}

// CompareRequest selects one lane and step to rank districts by.
type CompareRequest struct {
	Education string
	Credits   int
	Step      int
	// Year and Period are optional; see CompareAcrossDistricts.
	Year   string
	Period string
	Limit  int
}

// Comparison is a ranked answer, highest amount first.
type Comparison struct {
	Scope   schedule.Scope `json:"scope"`
	Lane    schedule.Lane  `json:"lane"`
	Step    int            `json:"step"`
	Results []store.Ranked `json:"results"`
}

// CompareAcrossDistricts ranks districts by their amount at one lane and
// step with a single read of the pre-sorted comparison index. Without a
// year the newest scope holding entries for the lane and step is used;
// the period defaults to the whole-year token.
func (s *Service) CompareAcrossDistricts(ctx context.Context, req CompareRequest) (*Comparison, error) {
	ctx, span := otel.Tracer("paygrid/query").Start(ctx, "query.CompareAcrossDistricts")
	defer span.End()

	lane, err := laneOf(req.Education, req.Credits)
	if err != nil {
		return nil, err
	}
	if req.Step < 1 {
		return nil, apperr.Validation("step must be positive")
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	gen := s.compares.Generation()
	scope, found, err := s.resolveScope(ctx, req.Year, req.Period, lane, req.Step)
	if err != nil {
		return nil, err
	}
	out := &Comparison{Scope: scope, Lane: lane, Step: req.Step, Results: []store.Ranked{}}
	if !found {
		return out, nil
	}
	span.SetAttributes(attribute.String("scope", scope.String()), attribute.String("lane", lane.String()), attribute.Int("step", req.Step))

	key := fmt.Sprintf("%s%s#%s#%d#%d", comparePrefix, scope.String(), lane.String(), req.Step, limit)
	if c, ok := s.compares.Get(key); ok {
		return c, nil
	}
	ranked, err := s.store.TopByAmount(ctx, scope, lane, req.Step, limit)
	if err != nil {
		return nil, err
	}
	if ranked != nil {
		out.Results = ranked
	}
	s.fill(func() bool { return s.compares.SetIfCurrent(key, out, gen) }, key)
	return out, nil
}

func (s *Service) resolveScope(ctx context.Context, year, period string, lane schedule.Lane, step int) (schedule.Scope, bool, error) {
	if period == "" {
		period = schedule.WholeYearPeriod
	}
	if year != "" {
		if !schedule.ValidSchoolYear(year) {
			return schedule.Scope{}, false, apperr.Validation("school year %q is not YYYY-YYYY", year)
		}
		return schedule.Scope{SchoolYear: year, Period: period}, true, nil
	}
	scopes, err := s.store.Scopes(ctx)
	if err != nil {
		return schedule.Scope{}, false, err
	}
	for _, sc := range scopes {
		if sc.Period != period {
			continue
		}
		ok, err := s.store.HasComparison(ctx, sc, lane, step)
		if err != nil {
			return schedule.Scope{}, false, err
		}
		if ok {
			return sc, true, nil
		}
	}
	return schedule.Scope{Period: period}, false, nil
}

func laneOf(education string, credits int) (schedule.Lane, error) {
	edu, err := schedule.ParseEducation(education)
	if err != nil {
		return schedule.Lane{}, apperr.Validation("%v", err)
	}
	if credits < 0 {
		return schedule.Lane{}, apperr.Validation("credits must not be negative")
	}
	return schedule.Lane{Education: edu, Credits: credits}, nil
}
