package export

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

type fakeReader struct {
	cells []schedule.Cell
	cmp   *query.Comparison
}

func (r *fakeReader) GetDistrictSchedule(_ context.Context, _, year, _ string) ([]schedule.Cell, error) {
	var out []schedule.Cell
	for _, c := range r.cells {
		if year == "" || c.SchoolYear == year {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeReader) CompareAcrossDistricts(context.Context, query.CompareRequest) (*query.Comparison, error) {
	return r.cmp, nil
}

func cell(year, period string, edu schedule.Education, credits, step int, amount float64, calc bool) schedule.Cell {
	return schedule.Cell{DistrictID: "D1", SchoolYear: year, Period: period, Education: edu,
		Credits: credits, Step: step, Amount: amount, IsCalculated: calc}
}

func open(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestScheduleXLSX(t *testing.T) {
	r := &fakeReader{cells: []schedule.Cell{
		cell("2024-2025", "full-year", schedule.Masters, 0, 1, 50000, false),
		cell("2024-2025", "full-year", schedule.Bachelors, 0, 1, 40000, false),
		cell("2024-2025", "full-year", schedule.Bachelors, 0, 2, 41000, true),
		cell("2024-2025", "full-year", schedule.Bachelors, 15, 2, 42000, false),
		cell("2025-2026", "full-year", schedule.Bachelors, 0, 1, 40500, false),
	}}
	svc := NewService(r, nil)

	data, err := svc.ScheduleXLSX(context.Background(), "D1", "")
	if err != nil {
		t.Fatalf("ScheduleXLSX: %v", err)
	}
	f := open(t, data)

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "2024-2025 full-year" || sheets[1] != "2025-2026 full-year" {
		t.Fatalf("sheets = %v", sheets)
	}
	sheet := sheets[0]
	tests := []struct {
		cell string
		want string
	}{
		{"A1", "Step"},
		{"B1", "Bachelor's"},
		{"C1", "Bachelor's+15"},
		{"D1", "Master's"},
		{"A3", "2"},
		{"B2", "40000"},
		{"B3", "41000"},
		{"C2", ""},
		{"D2", "50000"},
	}
	for _, tt := range tests {
		got, err := f.GetCellValue(sheet, tt.cell, excelize.Options{RawCellValue: true})
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", tt.cell, err)
		}
		if got != tt.want {
			t.Errorf("%s = %q, want %q", tt.cell, got, tt.want)
		}
	}

	doc, _ := f.GetCellStyle(sheet, "B2")
	calc, _ := f.GetCellStyle(sheet, "B3")
	if doc == calc {
		t.Error("calculated cell shares the document cell style")
	}
}

func TestScheduleXLSXEmpty(t *testing.T) {
	svc := NewService(&fakeReader{}, nil)
	if _, err := svc.ScheduleXLSX(context.Background(), "D1", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ScheduleXLSX error = %v, want not found", err)
	}
}

func TestCompareXLSX(t *testing.T) {
	r := &fakeReader{cmp: &query.Comparison{
		Scope: schedule.Scope{SchoolYear: "2024-2025", Period: "full-year"},
		Lane:  schedule.Lane{Education: schedule.Masters, Credits: 30},
		Step:  5,
		Results: []store.Ranked{
			{DistrictID: "D2", Amount: 60000},
			{DistrictID: "D1", Amount: 55000, IsCalculated: true},
		},
	}}
	data, err := NewService(r, nil).CompareXLSX(context.Background(), query.CompareRequest{Education: "MA", Credits: 30, Step: 5})
	if err != nil {
		t.Fatalf("CompareXLSX: %v", err)
	}
	f := open(t, data)
	sheet := f.GetSheetList()[0]
	if sheet != "Master's+30 step 5" {
		t.Errorf("sheet = %q", sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 5 || rows[3][1] != "D2" || rows[4][1] != "D1" || rows[4][3] != "TRUE" {
		t.Errorf("rows = %v", rows)
	}
}

func TestSheetName(t *testing.T) {
	if got := sheetName("2024-2025 extended:summer/session [A]"); len(got) > maxSheetName {
		t.Errorf("sheetName length = %d", len(got))
	}
	if got := sheetName("a/b:c"); got != "a-b-c" {
		t.Errorf("sheetName = %q", got)
	}
}
