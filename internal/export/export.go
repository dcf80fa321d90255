// Package export renders schedules and comparisons as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// Reader is the read side an export needs.
type Reader interface {
	GetDistrictSchedule(ctx context.Context, districtID, year, period string) ([]schedule.Cell, error)
	CompareAcrossDistricts(ctx context.Context, req query.CompareRequest) (*query.Comparison, error)
}

// Service produces XLSX bytes.
type Service struct {
	reader Reader
	logger *slog.Logger
}

func NewService(r Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reader: r, logger: logger}
}

// excel caps sheet names at 31 characters
const maxSheetName = 31

// ScheduleXLSX writes one sheet per (school year, period) of the district:
// steps down the rows, lanes across the columns. Calculated cells are
// italic on a shaded background.
func (s *Service) ScheduleXLSX(ctx context.Context, districtID, year string) ([]byte, error) {
	start := time.Now()
	cells, err := s.reader.GetDistrictSchedule(ctx, districtID, year, "")
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, apperr.NotFound("district %s has no schedule", districtID)
	}

	byScope := make(map[schedule.Scope][]schedule.Cell)
	var scopes []schedule.Scope
	for _, c := range cells {
		sc := c.Scope()
		if _, ok := byScope[sc]; !ok {
			scopes = append(scopes, sc)
		}
		byScope[sc] = append(byScope[sc], c)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })

	f := excelize.NewFile()
	defer f.Close()
	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}

	for i, sc := range scopes {
		name := sheetName(sc.SchoolYear + " " + sc.Period)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		if err := writeGrid(f, name, byScope[sc], st); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.schedule.ok",
		"district_id", districtID,
		"sheets", len(scopes),
		"cells", len(cells),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeGrid(f *excelize.File, sheet string, cells []schedule.Cell, st styles) error {
	laneSet := make(map[schedule.Lane]bool)
	maxStep := 0
	type key struct {
		lane schedule.Lane
		step int
	}
	grid := make(map[key]schedule.Cell, len(cells))
	for _, c := range cells {
		laneSet[c.Lane()] = true
		maxStep = max(maxStep, c.Step)
		grid[key{c.Lane(), c.Step}] = c
	}
	lanes := make([]schedule.Lane, 0, len(laneSet))
	for l := range laneSet {
		lanes = append(lanes, l)
	}
	schedule.SortLanes(lanes)

	write := func(col, row int, v any, style int) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if style != 0 {
			return f.SetCellStyle(sheet, cell, cell, style)
		}
		return nil
	}

	if err := write(1, 1, "Step", st.header); err != nil {
		return err
	}
	for i, l := range lanes {
		if err := write(i+2, 1, laneLabel(l), st.header); err != nil {
			return err
		}
	}
	for step := 1; step <= maxStep; step++ {
		row := step + 1
		if err := write(1, row, step, 0); err != nil {
			return err
		}
		for i, l := range lanes {
			c, ok := grid[key{l, step}]
			if !ok {
				continue
			}
			style := st.amount
			if c.IsCalculated {
				style = st.calculated
			}
			if err := write(i+2, row, c.Amount, style); err != nil {
				return err
			}
		}
	}

	last, _ := excelize.ColumnNumberToName(len(lanes) + 1)
	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", last, 16)
	return nil
}

// CompareXLSX writes a ranked comparison as a single sheet.
func (s *Service) CompareXLSX(ctx context.Context, req query.CompareRequest) ([]byte, error) {
	cmp, err := s.reader.CompareAcrossDistricts(ctx, req)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}
	sheet := sheetName(fmt.Sprintf("%s step %d", laneLabel(cmp.Lane), cmp.Step))
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(sheet, "A1", "Scope")
	_ = f.SetCellValue(sheet, "B1", cmp.Scope.SchoolYear+" "+cmp.Scope.Period)
	headers := []string{"Rank", "District", "Amount", "Calculated"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, st.header)
	}
	for i, r := range cmp.Results {
		row := i + 4
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, i+1)
		write(2, r.DistrictID)
		write(3, r.Amount)
		write(4, r.IsCalculated)
		cell, _ := excelize.CoordinatesToCellName(3, row)
		style := st.amount
		if r.IsCalculated {
			style = st.calculated
		}
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "B", 24)
	_ = f.SetColWidth(sheet, "C", "D", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.compare.ok", "scope", cmp.Scope.String(), "lane", cmp.Lane.String(), "rows", len(cmp.Results))
	return buf.Bytes(), nil
}

type styles struct {
	header, amount, calculated int
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	if st.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return st, err
	}
	// 4 is the built-in "#,##0.00" format
	if st.amount, err = f.NewStyle(&excelize.Style{NumFmt: 4}); err != nil {
		return st, err
	}
	st.calculated, err = f.NewStyle(&excelize.Style{
		NumFmt: 4,
		Font:   &excelize.Font{Italic: true, Color: "7F7F7F"},
		Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F2F2F2"}},
	})
	return st, err
}

func laneLabel(l schedule.Lane) string {
	if l.Credits == 0 {
		return string(l.Education)
	}
	return fmt.Sprintf("%s+%d", l.Education, l.Credits)
}

func sheetName(s string) string {
	s = strings.NewReplacer(":", "-", "/", "-", "\\", "-", "?", "", "*", "", "[", "(", "]", ")").Replace(s)
	if len(s) > maxSheetName {
		s = s[:maxSheetName]
	}
	return s
}
