package store

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// Ranked is one Index A entry.
type Ranked struct {
	DistrictID   string  `json:"district_id"`
	Amount       float64 `json:"amount"`
	IsCalculated bool    `json:"is_calculated"`
}

// TopByAmount reads the top entries of one Index A set, highest amount
// first. Ties are broken by district id descending, as Redis orders them.
func (s *Store) TopByAmount(ctx context.Context, scope schedule.Scope, lane schedule.Lane, step, limit int) ([]Ranked, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := schedule.ComparisonKey(scope.SchoolYear, scope.Period, lane, step)
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, apperr.Storage(err, "read comparison index %s", key)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	flags, err := s.rdb.HMGet(ctx, schedule.ComparisonMetaKey(scope.SchoolYear, scope.Period, lane, step), ids...).Result()
	if err != nil {
		return nil, apperr.Storage(err, "read comparison flags %s", key)
	}
	out := make([]Ranked, len(zs))
	for i, z := range zs {
		fl, _ := flags[i].(string)
		out[i] = Ranked{DistrictID: ids[i], Amount: z.Score, IsCalculated: fl == "c"}
	}
	return out, nil
}

// HasComparison reports whether an Index A set has any entries.
func (s *Store) HasComparison(ctx context.Context, scope schedule.Scope, lane schedule.Lane, step int) (bool, error) {
	n, err := s.rdb.ZCard(ctx, schedule.ComparisonKey(scope.SchoolYear, scope.Period, lane, step)).Result()
	if err != nil {
		return false, apperr.Storage(err, "count comparison index")
	}
	return n > 0, nil
}

// LaneStep addresses one value in a district scope.
type LaneStep struct {
	Lane schedule.Lane
	Step int
}

// Entry is one Index B value.
type Entry struct {
	Amount       float64
	IsCalculated bool
}

// DistrictScope reads a district's full lane/step set for one scope from Index B.
func (s *Store) DistrictScope(ctx context.Context, districtID string, scope schedule.Scope) (map[LaneStep]Entry, error) {
	key := schedule.DistrictScopeKey(scope.SchoolYear, scope.Period, districtID)
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperr.Storage(err, "read district scope %s", key)
	}
	out := make(map[LaneStep]Entry, len(raw))
	for f, v := range raw {
		lane, step, err := schedule.ParseLaneStepField(f)
		if err != nil {
			s.log.Warn("skipping malformed index field", "key", key, "field", f)
			continue
		}
		amt, calc, err := decodeEntry(v)
		if err != nil {
			s.log.Warn("skipping malformed index value", "key", key, "field", f)
			continue
		}
		out[LaneStep{Lane: lane, Step: step}] = Entry{Amount: amt, IsCalculated: calc}
	}
	return out, nil
}

// Scopes lists every (year, period) ever written, newest year first.
func (s *Store) Scopes(ctx context.Context) ([]schedule.Scope, error) {
	members, err := s.rdb.ZRevRangeByLex(ctx, schedule.ScopesKey, &redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, apperr.Storage(err, "read scopes")
	}
	out := make([]schedule.Scope, 0, len(members))
	for _, m := range members {
		if sc, ok := schedule.ParseScope(m); ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

// RegisterDistricts adds ids to the known district registry.
func (s *Store) RegisterDistricts(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.rdb.SAdd(ctx, schedule.DistrictsKey, members...).Err(); err != nil {
		return apperr.Storage(err, "register districts")
	}
	return nil
}

// DistrictExists reports whether id is a registered district.
func (s *Store) DistrictExists(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, schedule.DistrictsKey, id).Result()
	if err != nil {
		return false, apperr.Storage(err, "check district %s", id)
	}
	return ok, nil
}

// Districts lists registered districts, sorted.
func (s *Store) Districts(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, schedule.DistrictsKey).Result()
	if err != nil {
		return nil, apperr.Storage(err, "list districts")
	}
	sort.Strings(ids)
	return ids, nil
}
