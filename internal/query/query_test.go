package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

var (
	ba   = schedule.Lane{Education: schedule.Bachelors}
	ba15 = schedule.Lane{Education: schedule.Bachelors, Credits: 15}
	ma   = schedule.Lane{Education: schedule.Masters}
	ma30 = schedule.Lane{Education: schedule.Masters, Credits: 30}
)

func setup(t *testing.T, ttl time.Duration) (*store.Store, *Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb)
	t.Cleanup(func() { st.Close() })
	return st, New(st, Config{CacheTTL: ttl, CacheSize: 100}, nil)
}

func seed(t *testing.T, st *store.Store, district, year string, base float64, lanes ...schedule.Lane) {
	t.Helper()
	var cells []schedule.Cell
	for i, l := range lanes {
		for step := 1; step <= 5; step++ {
			cells = append(cells, schedule.Cell{
				DistrictID: district, SchoolYear: year, Period: schedule.WholeYearPeriod,
				Education: l.Education, Credits: l.Credits, Step: step,
				Amount: base + float64(i)*2000 + float64(step)*1000,
			})
		}
	}
	scope := schedule.Scope{SchoolYear: year, Period: schedule.WholeYearPeriod}
	if _, err := st.ReplaceScopes(context.Background(), district, []schedule.Scope{scope}, cells, nil); err != nil {
		t.Fatalf("ReplaceScopes(%s): %v", district, err)
	}
}

func TestCompareAcrossDistricts(t *testing.T) {
	st, q := setup(t, 0)
	seed(t, st, "D1", "2024-2025", 40000, ba, ma30)
	seed(t, st, "D2", "2024-2025", 45000, ba, ma30)
	seed(t, st, "D3", "2024-2025", 42000, ba)
	seed(t, st, "D1", "2025-2026", 41000, ba, ma30)

	tests := []struct {
		name      string
		req       CompareRequest
		wantScope string
		wantIDs   []string
	}{
		{"explicit year", CompareRequest{Education: "Master's", Credits: 30, Step: 5, Year: "2024-2025"}, "2024-2025#full-year", []string{"D2", "D1"}},
		{"default year", CompareRequest{Education: "MA", Credits: 30, Step: 5}, "2025-2026#full-year", []string{"D1"}},
		{"limit", CompareRequest{Education: "BA", Step: 1, Year: "2024-2025", Limit: 2}, "2024-2025#full-year", []string{"D2", "D3"}},
		{"no data", CompareRequest{Education: "Doctorate", Step: 1}, "#full-year", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.CompareAcrossDistricts(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("CompareAcrossDistricts: %v", err)
			}
			if got.Scope.String() != tt.wantScope {
				t.Errorf("Scope = %s, want %s", got.Scope, tt.wantScope)
			}
			if len(got.Results) != len(tt.wantIDs) {
				t.Fatalf("Results = %+v, want %v", got.Results, tt.wantIDs)
			}
			for i, r := range got.Results {
				if r.DistrictID != tt.wantIDs[i] {
					t.Errorf("Results[%d] = %s, want %s", i, r.DistrictID, tt.wantIDs[i])
				}
				if i > 0 && r.Amount >= got.Results[i-1].Amount {
					t.Errorf("Results not strictly descending at %d", i)
				}
			}
		})
	}
}

func TestCompareValidation(t *testing.T) {
	_, q := setup(t, 0)
	tests := []CompareRequest{
		{Education: "PhD-ish", Step: 1},
		{Education: "BA", Step: 0},
		{Education: "BA", Credits: -1, Step: 1},
		{Education: "BA", Step: 1, Year: "2024"},
	}
	for _, req := range tests {
		if _, err := q.CompareAcrossDistricts(context.Background(), req); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("CompareAcrossDistricts(%+v) error = %v, want invalid input", req, err)
		}
	}
}

func TestCompareClampsLimit(t *testing.T) {
	st, q := setup(t, 0)
	seed(t, st, "D1", "2024-2025", 40000, ba)
	got, err := q.CompareAcrossDistricts(context.Background(), CompareRequest{Education: "BA", Step: 1, Limit: 5000})
	if err != nil {
		t.Fatalf("CompareAcrossDistricts: %v", err)
	}
	if len(got.Results) != 1 {
		t.Errorf("Results = %d, want 1", len(got.Results))
	}
}

func TestGetDistrictSchedule(t *testing.T) {
	st, q := setup(t, 0)
	seed(t, st, "D1", "2024-2025", 40000, ba, ma)
	seed(t, st, "D1", "2025-2026", 41000, ba)
	ctx := context.Background()

	all, err := q.GetDistrictSchedule(ctx, "D1", "", "")
	if err != nil {
		t.Fatalf("GetDistrictSchedule: %v", err)
	}
	if len(all) != 15 {
		t.Errorf("all years = %d cells, want 15", len(all))
	}
	one, _ := q.GetDistrictSchedule(ctx, "D1", "2025-2026", "")
	if len(one) != 5 {
		t.Errorf("2025-2026 = %d cells, want 5", len(one))
	}
	none, err := q.GetDistrictSchedule(ctx, "D9", "", "")
	if err != nil || len(none) != 0 {
		t.Errorf("unknown district = %v, %v, want empty", none, err)
	}
	if _, err := q.GetDistrictSchedule(ctx, "D1", "", "summer"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("period without year error = %v, want invalid input", err)
	}
}

func TestLookupDistrictValue(t *testing.T) {
	st, q := setup(t, 0)
	seed(t, st, "D1", "2024-2025", 40000, ba, ma)
	ctx := context.Background()

	exact, err := q.LookupDistrictValue(ctx, LookupRequest{DistrictID: "D1", Year: "2024-2025", Education: "BA", Step: 3})
	if err != nil {
		t.Fatalf("LookupDistrictValue: %v", err)
	}
	if exact.Fallback || exact.Amount != 43000 {
		t.Errorf("exact = %+v, want 43000 without fallback", exact)
	}

	// BA+15 is missing: same education with fewer credits comes first
	fb, err := q.LookupDistrictValue(ctx, LookupRequest{DistrictID: "D1", Year: "2024-2025", Education: "BA", Credits: 15, Step: 3})
	if err != nil {
		t.Fatalf("LookupDistrictValue: %v", err)
	}
	if !fb.Fallback || fb.SourceLane == nil || *fb.SourceLane != ba || fb.Amount != 43000 {
		t.Errorf("fallback = %+v, want BA step 3 tagged as fallback", fb)
	}
	if fb.Lane != ba15 {
		t.Errorf("Lane = %v, want the requested lane", fb.Lane)
	}

	_, err = q.LookupDistrictValue(ctx, LookupRequest{DistrictID: "D1", Year: "2024-2025", Education: "BA", Step: 9})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing step error = %v, want not found", err)
	}
}

func TestFallbackLookupPrefersHigherCreditsBeforeOtherEducation(t *testing.T) {
	st, q := setup(t, 0)
	seed(t, st, "D1", "2024-2025", 40000, ba15, ma)

	got, err := q.FallbackLookup(context.Background(), LookupRequest{DistrictID: "D1", Year: "2024-2025", Education: "BA", Step: 2})
	if err != nil {
		t.Fatalf("FallbackLookup: %v", err)
	}
	if got.SourceLane == nil || *got.SourceLane != ba15 {
		t.Errorf("SourceLane = %v, want Bachelor's+15", got.SourceLane)
	}
}

func TestCacheInvalidation(t *testing.T) {
	st, q := setup(t, time.Minute)
	ctx := context.Background()
	seed(t, st, "D1", "2024-2025", 40000, ba)

	first, _ := q.GetDistrictSchedule(ctx, "D1", "2024-2025", "")
	cmp, _ := q.CompareAcrossDistricts(ctx, CompareRequest{Education: "BA", Step: 1, Year: "2024-2025"})

	seed(t, st, "D1", "2024-2025", 50000, ba)

	cached, _ := q.GetDistrictSchedule(ctx, "D1", "2024-2025", "")
	if cached[0].Amount != first[0].Amount {
		t.Fatalf("expected a cached read before invalidation")
	}

	scopes := []schedule.Scope{{SchoolYear: "2024-2025", Period: schedule.WholeYearPeriod}}
	for _, p := range StalePrefixes("D1", scopes) {
		q.InvalidatePrefix(p)
	}

	fresh, _ := q.GetDistrictSchedule(ctx, "D1", "2024-2025", "")
	if fresh[0].Amount != 51000 {
		t.Errorf("schedule after invalidation = %v, want 51000", fresh[0].Amount)
	}
	cmp2, _ := q.CompareAcrossDistricts(ctx, CompareRequest{Education: "BA", Step: 1, Year: "2024-2025"})
	if cmp2.Results[0].Amount == cmp.Results[0].Amount {
		t.Errorf("comparison still cached after invalidation")
	}
}

func TestInvalidationDuringReadIsNotCached(t *testing.T) {
	st, q := setup(t, time.Minute)
	ctx := context.Background()
	seed(t, st, "D1", "2024-2025", 40000, ba)

	// an apply commits and invalidates while the read is in flight
	q.afterRead = func() {
		q.afterRead = nil
		seed(t, st, "D1", "2024-2025", 50000, ba)
		q.InvalidatePrefix("")
	}
	stale, err := q.GetDistrictSchedule(ctx, "D1", "2024-2025", "")
	if err != nil {
		t.Fatalf("GetDistrictSchedule: %v", err)
	}
	if stale[0].Amount != 41000 {
		t.Fatalf("in-flight read = %v, want 41000", stale[0].Amount)
	}

	fresh, _ := q.GetDistrictSchedule(ctx, "D1", "2024-2025", "")
	if fresh[0].Amount != 51000 {
		t.Errorf("read after invalidation = %v, want 51000", fresh[0].Amount)
	}
}
