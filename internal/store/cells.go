package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// DistrictCells returns a district's cells whose sort key starts with the
// year (and optional period) prefix, in sort key order.
func (s *Store) DistrictCells(ctx context.Context, districtID, year, period string) ([]schedule.Cell, error) {
	cells, err := readPartition(ctx, s.rdb, districtID, schedule.SortKeyPrefix(year, period))
	if err != nil {
		return nil, apperr.Storage(err, "read district %s", districtID)
	}
	return cells, nil
}

// GetCell returns the cell at an exact key, or nil when absent.
func (s *Store) GetCell(ctx context.Context, districtID string, scope schedule.Scope, lane schedule.Lane, step int) (*schedule.Cell, error) {
	sk := schedule.SortKey(schedule.Cell{
		SchoolYear: scope.SchoolYear, Period: scope.Period,
		Education: lane.Education, Credits: lane.Credits, Step: step,
	})
	raw, err := s.rdb.HGet(ctx, schedule.PartitionKey(districtID), sk).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "read cell %s", sk)
	}
	var c schedule.Cell
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode cell %s: %w", sk, err)
	}
	return &c, nil
}

// ReplaceScopes atomically swaps a district's cells for the given scopes.
// Every existing cell in those scopes, document or calculated, is removed
// together with its index entries and the new cells are written in the
// same MULTI/EXEC. beforeCommit, when set, receives the cells about to be
// replaced; an error from it aborts the swap with nothing written.
func (s *Store) ReplaceScopes(ctx context.Context, districtID string, scopes []schedule.Scope, cells []schedule.Cell, beforeCommit func(old []schedule.Cell) error) (int, error) {
	for _, c := range cells {
		if c.DistrictID != districtID {
			return 0, apperr.Validation("cell for district %q in replace of %q", c.DistrictID, districtID)
		}
		if err := c.Validate(); err != nil {
			return 0, apperr.Validation("%v", err)
		}
	}

	pk := schedule.PartitionKey(districtID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		var old []schedule.Cell
		for _, sc := range scopes {
			got, err := readPartition(ctx, tx, districtID, schedule.SortKeyPrefix(sc.SchoolYear, sc.Period))
			if err != nil {
				return err
			}
			old = append(old, got...)
		}
		if beforeCommit != nil {
			if err := beforeCommit(old); err != nil {
				return err
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			n := 0
			for _, c := range old {
				deleteCell(ctx, pipe, c)
				if err := s.hook(n); err != nil {
					return err
				}
				n++
			}
			for _, c := range cells {
				if err := writeCell(ctx, pipe, c); err != nil {
					return err
				}
				if err := s.hook(n); err != nil {
					return err
				}
				n++
			}
			for _, sc := range scopes {
				pipe.ZAdd(ctx, schedule.ScopesKey, redis.Z{Member: sc.String()})
			}
			return nil
		})
		return err
	}, pk)
	if err != nil {
		if apperr.CodeOf(err) != "" {
			return 0, err
		}
		return 0, apperr.Storage(err, "replace cells for district %s", districtID)
	}
	return len(cells), nil
}

// PutCalculated writes synthesized cells for one district. A key already
// holding a document cell is never touched. It returns how many keys did not
// exist before.
func (s *Store) PutCalculated(ctx context.Context, districtID string, cells []schedule.Cell) (int, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	pk := schedule.PartitionKey(districtID)
	fields := make([]string, len(cells))
	for i, c := range cells {
		if !c.IsCalculated || c.DistrictID != districtID {
			return 0, fmt.Errorf("put calculated: cell %s is not a calculated cell of %s", schedule.SortKey(c), districtID)
		}
		fields[i] = schedule.SortKey(c)
	}

	created := 0
	err := s.watch(ctx, func(tx *redis.Tx) error {
		created = 0
		existing, err := tx.HMGet(ctx, pk, fields...).Result()
		if err != nil {
			return err
		}
		var writes []schedule.Cell
		for i, v := range existing {
			raw, ok := v.(string)
			if !ok {
				created++
				writes = append(writes, cells[i])
				continue
			}
			var cur schedule.Cell
			if err := json.Unmarshal([]byte(raw), &cur); err != nil {
				return fmt.Errorf("decode cell %s: %w", fields[i], err)
			}
			if !cur.IsCalculated {
				continue
			}
			if cur.Amount != cells[i].Amount || cur.CalculatedFrom != cells[i].CalculatedFrom {
				writes = append(writes, cells[i])
			}
		}
		if len(writes) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, c := range writes {
				if err := writeCell(ctx, pipe, c); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}, pk)
	if err != nil {
		return 0, apperr.Storage(err, "write calculated cells for district %s", districtID)
	}
	return created, nil
}

func (s *Store) hook(n int) error {
	if s.commitHook == nil {
		return nil
	}
	return s.commitHook(n)
}

// readPartition reads cells under a sort key prefix using any command
// surface (client or WATCH transaction).
func readPartition(ctx context.Context, c redis.Cmdable, districtID, prefix string) ([]schedule.Cell, error) {
	sks, err := c.ZRangeByLex(ctx, schedule.PartitionIndexKey(districtID), &redis.ZRangeBy{
		Min: "[" + prefix,
		Max: "(" + prefix + "\xff",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(sks) == 0 {
		return nil, nil
	}
	vals, err := c.HMGet(ctx, schedule.PartitionKey(districtID), sks...).Result()
	if err != nil {
		return nil, err
	}
	cells := make([]schedule.Cell, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var cell schedule.Cell
		if err := json.Unmarshal([]byte(raw), &cell); err != nil {
			return nil, fmt.Errorf("decode cell %s: %w", sks[i], err)
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func writeCell(ctx context.Context, pipe redis.Pipeliner, c schedule.Cell) error {
	c.Amount = schedule.RoundCents(c.Amount)
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cell: %w", err)
	}
	sk := schedule.SortKey(c)
	lane := c.Lane()
	pipe.HSet(ctx, schedule.PartitionKey(c.DistrictID), sk, raw)
	pipe.ZAdd(ctx, schedule.PartitionIndexKey(c.DistrictID), redis.Z{Member: sk})
	pipe.ZAdd(ctx, schedule.ComparisonKey(c.SchoolYear, c.Period, lane, c.Step), redis.Z{Score: c.Amount, Member: c.DistrictID})
	pipe.HSet(ctx, schedule.ComparisonMetaKey(c.SchoolYear, c.Period, lane, c.Step), c.DistrictID, flag(c.IsCalculated))
	pipe.HSet(ctx, schedule.DistrictScopeKey(c.SchoolYear, c.Period, c.DistrictID), schedule.LaneStepField(lane, c.Step), encodeEntry(c.Amount, c.IsCalculated))
	return nil
}

func deleteCell(ctx context.Context, pipe redis.Pipeliner, c schedule.Cell) {
	sk := schedule.SortKey(c)
	lane := c.Lane()
	pipe.HDel(ctx, schedule.PartitionKey(c.DistrictID), sk)
	pipe.ZRem(ctx, schedule.PartitionIndexKey(c.DistrictID), sk)
	pipe.ZRem(ctx, schedule.ComparisonKey(c.SchoolYear, c.Period, lane, c.Step), c.DistrictID)
	pipe.HDel(ctx, schedule.ComparisonMetaKey(c.SchoolYear, c.Period, lane, c.Step), c.DistrictID)
	pipe.HDel(ctx, schedule.DistrictScopeKey(c.SchoolYear, c.Period, c.DistrictID), schedule.LaneStepField(lane, c.Step))
}

func flag(calculated bool) string {
	if calculated {
		return "c"
	}
	return "d"
}

// encodeEntry packs an Index B value as "{amount}|{d|c}".
func encodeEntry(amount float64, calculated bool) string {
	return strconv.FormatFloat(amount, 'f', 2, 64) + "|" + flag(calculated)
}

func decodeEntry(v string) (float64, bool, error) {
	amt, fl, ok := strings.Cut(v, "|")
	if !ok {
		return 0, false, fmt.Errorf("malformed index entry %q", v)
	}
	f, err := strconv.ParseFloat(amt, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed index amount %q", v)
	}
	return f, fl == "c", nil
}

// ScopesOf lists the distinct scopes of cells, sorted.
func ScopesOf(cells []schedule.Cell) []schedule.Scope {
	seen := make(map[schedule.Scope]bool)
	var out []schedule.Scope
	for _, c := range cells {
		sc := c.Scope()
		if !seen[sc] {
			seen[sc] = true
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
