package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

type fakeStrategy struct {
	name     string
	text     bool
	cells    []schedule.Cell
	err      error
	panicMsg string
	calls    int
}

func (f *fakeStrategy) Name() string            { return f.name }
func (f *fakeStrategy) ReadsEmbeddedText() bool { return f.text }

func (f *fakeStrategy) TryExtract(ctx context.Context, doc Document) ([]schedule.Cell, error) {
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.cells, f.err
}

func someCells(n int) []schedule.Cell {
	out := make([]schedule.Cell, n)
	for i := range out {
		out[i] = schedule.Cell{SchoolYear: "2024-2025", Period: "full-year", Education: schedule.Bachelors, Step: i + 1, Amount: 40000}
	}
	return out
}

func TestExtractFallsThrough(t *testing.T) {
	tests := []struct {
		name       string
		first      *fakeStrategy
		wantReason string
	}{
		{"error", &fakeStrategy{name: "first", text: true, err: errors.New("boom")}, "boom"},
		{"empty", &fakeStrategy{name: "first", text: true}, ErrNoResult.Error()},
		{"panic", &fakeStrategy{name: "first", text: true, panicMsg: "index out of range"}, "strategy panicked: index out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			second := &fakeStrategy{name: "second", text: true, cells: someCells(3)}
			e := New(nil, tt.first, second)

			res, err := e.Extract(context.Background(), Document{Filename: "s.pdf"})
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if res.Method != "second" || len(res.Cells) != 3 {
				t.Errorf("Extract() = %s/%d rows, want second/3", res.Method, len(res.Cells))
			}
			if len(res.Attempts) != 2 {
				t.Fatalf("Attempts = %d, want 2", len(res.Attempts))
			}
			if res.Attempts[0].Error != tt.wantReason {
				t.Errorf("Attempts[0].Error = %q, want %q", res.Attempts[0].Error, tt.wantReason)
			}
			if !res.Success() {
				t.Error("Success() = false, want true")
			}
		})
	}
}

func TestExtractStopsAtFirstSuccess(t *testing.T) {
	first := &fakeStrategy{name: "first", text: true, cells: someCells(2)}
	second := &fakeStrategy{name: "second", cells: someCells(5)}
	res, err := New(nil, first, second).Extract(context.Background(), Document{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Method != "first" || second.calls != 0 {
		t.Errorf("Method = %s, second.calls = %d, want first and 0", res.Method, second.calls)
	}
}

func TestExtractSkipsTextStrategiesForImageDocuments(t *testing.T) {
	first := &fakeStrategy{name: "pdftotext", text: true, err: ErrImageBased}
	second := &fakeStrategy{name: "pdf-text", text: true, cells: someCells(2)}
	ocr := &fakeStrategy{name: "textract", cells: someCells(4)}

	res, err := New(nil, first, second, ocr).Extract(context.Background(), Document{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if second.calls != 0 {
		t.Errorf("text strategy ran %d times on an image document", second.calls)
	}
	if res.Method != "textract" {
		t.Errorf("Method = %q, want textract", res.Method)
	}
	if !res.Attempts[1].Skipped {
		t.Errorf("Attempts[1] = %+v, want skipped", res.Attempts[1])
	}
}

func TestExtractExhausted(t *testing.T) {
	e := New(nil,
		&fakeStrategy{name: "pdftotext", text: true, err: errors.New("exit status 1")},
		&fakeStrategy{name: "pdf-text", text: true},
		&fakeStrategy{name: "textract", err: errors.New("throttled")},
	)
	res, err := e.Extract(context.Background(), Document{})
	if err == nil {
		t.Fatal("Extract() error = nil, want extraction failure")
	}
	if got := apperr.CodeOf(err); got != apperr.CodeExtractionFailure {
		t.Errorf("CodeOf() = %q, want %q", got, apperr.CodeExtractionFailure)
	}
	for _, name := range []string{"pdftotext: exit status 1", "pdf-text: no schedule rows found", "textract: throttled"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %q", err, name)
		}
	}
	if res.Success() || len(res.Attempts) != 3 {
		t.Errorf("result = %+v, want 3 failed attempts", res)
	}
}

func TestExtractCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeStrategy{name: "first", cells: someCells(1)}
	if _, err := New(nil, s).Extract(ctx, Document{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
	if s.calls != 0 {
		t.Errorf("strategy ran after cancel")
	}
}

func TestStrategies(t *testing.T) {
	e := New(nil, NewPdftotext("", nil), NewPDFLib(), NewTextract(nil, OCRConfig{}, nil))
	got := strings.Join(e.Strategies(), ",")
	if got != "pdftotext,pdf-text,textract" {
		t.Errorf("Strategies() = %s", got)
	}
}

type fakeRunner struct {
	stdout string
	err    error
	args   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.args = args
	return []byte(f.stdout), nil, f.err
}

func TestPdftotextStrategy(t *testing.T) {
	pdf := []byte("%PDF-1.7\n% test document\n")

	t.Run("usable text", func(t *testing.T) {
		r := &fakeRunner{stdout: layoutPage + "\f"}
		cells, err := NewPdftotext("", r).TryExtract(context.Background(), Document{Data: pdf})
		if err != nil {
			t.Fatalf("TryExtract() error = %v", err)
		}
		if len(cells) != 25 {
			t.Errorf("TryExtract() = %d cells, want 25", len(cells))
		}
		if len(r.args) == 0 || r.args[0] != "-layout" {
			t.Errorf("args = %v, want -layout first", r.args)
		}
	})

	t.Run("image based", func(t *testing.T) {
		r := &fakeRunner{stdout: " \f \f"}
		data := append(append([]byte{}, pdf...), "<< /Type /XObject /Subtype /Image >>"...)
		_, err := NewPdftotext("", r).TryExtract(context.Background(), Document{Data: data})
		if !errors.Is(err, ErrImageBased) {
			t.Errorf("TryExtract() error = %v, want ErrImageBased", err)
		}
	})

	t.Run("no keywords", func(t *testing.T) {
		r := &fakeRunner{stdout: strings.Repeat("Lorem ipsum dolor sit amet consectetur. ", 20)}
		_, err := NewPdftotext("", r).TryExtract(context.Background(), Document{Data: pdf})
		if !errors.Is(err, ErrNoResult) {
			t.Errorf("TryExtract() error = %v, want ErrNoResult", err)
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		r := &fakeRunner{}
		if _, err := NewPdftotext("", r).TryExtract(context.Background(), Document{Data: []byte("PK\x03\x04")}); err == nil {
			t.Error("TryExtract() error = nil for a non-pdf")
		}
		if r.args != nil {
			t.Error("pdftotext ran on a non-pdf")
		}
	})

	t.Run("process failure", func(t *testing.T) {
		r := &fakeRunner{err: errors.New("exit status 1")}
		if _, err := NewPdftotext("", r).TryExtract(context.Background(), Document{Data: pdf}); err == nil {
			t.Error("TryExtract() error = nil, want process failure")
		}
	})
}

type fakeTextract struct {
	pages     []*textract.GetDocumentAnalysisOutput
	calls     int
	tokens    []string
	startedIn *textract.StartDocumentAnalysisInput
}

func (f *fakeTextract) StartDocumentAnalysis(ctx context.Context, in *textract.StartDocumentAnalysisInput, opts ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error) {
	f.startedIn = in
	return &textract.StartDocumentAnalysisOutput{JobId: aws.String("tx-1")}, nil
}

func (f *fakeTextract) GetDocumentAnalysis(ctx context.Context, in *textract.GetDocumentAnalysisInput, opts ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error) {
	f.tokens = append(f.tokens, aws.ToString(in.NextToken))
	out := f.pages[min(f.calls, len(f.pages)-1)]
	f.calls++
	return out, nil
}

func block(id string, typ types.BlockType, text string, children ...string) types.Block {
	b := types.Block{Id: aws.String(id), BlockType: typ, Page: aws.Int32(1)}
	if text != "" {
		b.Text = aws.String(text)
	}
	if len(children) > 0 {
		b.Relationships = []types.Relationship{{Type: types.RelationshipTypeChild, Ids: children}}
	}
	return b
}

func cellBlock(id string, row, col int32, words ...string) types.Block {
	b := block(id, types.BlockTypeCell, "", words...)
	b.RowIndex = aws.Int32(row)
	b.ColumnIndex = aws.Int32(col)
	return b
}

func tableBlocks() []types.Block {
	return []types.Block{
		block("l1", types.BlockTypeLine, "2024-2025 Salary Schedule"),
		block("t1", types.BlockTypeTable, "", "c11", "c12", "c13", "c21", "c22", "c23"),
		cellBlock("c11", 1, 1, "w1"),
		cellBlock("c12", 1, 2, "w2"),
		cellBlock("c13", 1, 3, "w3", "w4"),
		cellBlock("c21", 2, 1, "w5"),
		cellBlock("c22", 2, 2, "w6"),
		cellBlock("c23", 2, 3, "w7"),
		block("w1", types.BlockTypeWord, "Step"),
		block("w2", types.BlockTypeWord, "BA"),
		block("w3", types.BlockTypeWord, "MA"),
		block("w4", types.BlockTypeWord, "+30"),
		block("w5", types.BlockTypeWord, "1"),
		block("w6", types.BlockTypeWord, "45,000"),
		block("w7", types.BlockTypeWord, "51,500"),
	}
}

func TestCellsFromBlocks(t *testing.T) {
	cells := cellsFromBlocks(tableBlocks())
	if len(cells) != 2 {
		t.Fatalf("cellsFromBlocks() = %d cells, want 2", len(cells))
	}
	c := cells[1]
	if c.SchoolYear != "2024-2025" || c.Education != schedule.Masters || c.Credits != 30 || c.Amount != 51500 {
		t.Errorf("cells[1] = %+v, want 2024-2025 Master's+30 51500", c)
	}
}

// smallTable is a one-step BA / MA+30 table whose block ids start with id.
func smallTable(id string, ba, ma string) []types.Block {
	return []types.Block{
		block(id, types.BlockTypeTable, "", id+"c11", id+"c12", id+"c13", id+"c21", id+"c22", id+"c23"),
		cellBlock(id+"c11", 1, 1, id+"w1"),
		cellBlock(id+"c12", 1, 2, id+"w2"),
		cellBlock(id+"c13", 1, 3, id+"w3", id+"w4"),
		cellBlock(id+"c21", 2, 1, id+"w5"),
		cellBlock(id+"c22", 2, 2, id+"w6"),
		cellBlock(id+"c23", 2, 3, id+"w7"),
		block(id+"w1", types.BlockTypeWord, "Step"),
		block(id+"w2", types.BlockTypeWord, "BA"),
		block(id+"w3", types.BlockTypeWord, "MA"),
		block(id+"w4", types.BlockTypeWord, "+30"),
		block(id+"w5", types.BlockTypeWord, "1"),
		block(id+"w6", types.BlockTypeWord, ba),
		block(id+"w7", types.BlockTypeWord, ma),
	}
}

func at(b types.Block, top float32) types.Block {
	b.Geometry = &types.Geometry{BoundingBox: &types.BoundingBox{Top: top}}
	return b
}

func TestCellsFromBlocksTwoTablesOnOnePage(t *testing.T) {
	older := smallTable("ta", "44,000", "50,000")
	newer := smallTable("tb", "45,000", "51,500")

	tests := []struct {
		name   string
		blocks []types.Block
	}{
		{
			name: "by block order",
			blocks: append(append(append([]types.Block{
				block("l1", types.BlockTypeLine, "2023-2024 Salary Schedule"),
			}, older...), block("l2", types.BlockTypeLine, "2024-2025 Salary Schedule")), newer...),
		},
		{
			// lines first, tables after, as the OCR service returns them
			name: "by geometry",
			blocks: append(append([]types.Block{
				at(block("l1", types.BlockTypeLine, "2023-2024 Salary Schedule"), 0.05),
				at(block("l2", types.BlockTypeLine, "2024-2025 Salary Schedule"), 0.50),
				at(older[0], 0.10),
				at(newer[0], 0.55),
			}, older[1:]...), newer[1:]...),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells := cellsFromBlocks(tt.blocks)
			if len(cells) != 4 {
				t.Fatalf("cellsFromBlocks() = %d cells, want 4", len(cells))
			}
			amounts := map[string]float64{}
			for _, c := range cells {
				if c.Education == schedule.Bachelors {
					amounts[c.SchoolYear] = c.Amount
				}
			}
			if amounts["2023-2024"] != 44000 || amounts["2024-2025"] != 45000 {
				t.Errorf("BA step 1 by year = %v, want 2023-2024:44000 2024-2025:45000", amounts)
			}
		})
	}
}

func TestTextractStrategy(t *testing.T) {
	blocks := tableBlocks()
	api := &fakeTextract{pages: []*textract.GetDocumentAnalysisOutput{
		{JobStatus: types.JobStatusInProgress},
		{JobStatus: types.JobStatusSucceeded, Blocks: blocks[:4], NextToken: aws.String("p2")},
		{JobStatus: types.JobStatusSucceeded, Blocks: blocks[4:]},
	}}
	s := NewTextract(api, OCRConfig{PollInterval: time.Millisecond, MaxWait: 5 * time.Second}, nil)

	cells, err := s.TryExtract(context.Background(), Document{Location: "s3://schedules/uploads/job-1/s.pdf"})
	if err != nil {
		t.Fatalf("TryExtract() error = %v", err)
	}
	if len(cells) != 2 {
		t.Errorf("TryExtract() = %d cells, want 2", len(cells))
	}
	if got := aws.ToString(api.startedIn.DocumentLocation.S3Object.Name); got != "uploads/job-1/s.pdf" {
		t.Errorf("submitted key = %q", got)
	}
	if want := []string{"", "", "p2"}; strings.Join(api.tokens, ",") != strings.Join(want, ",") {
		t.Errorf("next tokens = %q, want %q", api.tokens, want)
	}
}

func TestTextractStrategyFailures(t *testing.T) {
	t.Run("local document", func(t *testing.T) {
		s := NewTextract(&fakeTextract{}, OCRConfig{}, nil)
		_, err := s.TryExtract(context.Background(), Document{Location: "file:///tmp/s.pdf"})
		if !errors.Is(err, ErrNoResult) {
			t.Errorf("TryExtract() error = %v, want ErrNoResult", err)
		}
	})

	t.Run("analysis failed", func(t *testing.T) {
		api := &fakeTextract{pages: []*textract.GetDocumentAnalysisOutput{
			{JobStatus: types.JobStatusFailed, StatusMessage: aws.String("unsupported document")},
		}}
		s := NewTextract(api, OCRConfig{PollInterval: time.Millisecond}, nil)
		_, err := s.TryExtract(context.Background(), Document{Location: "s3://b/k.pdf"})
		if err == nil || !strings.Contains(err.Error(), "unsupported document") {
			t.Errorf("TryExtract() error = %v, want the status message", err)
		}
	})

	t.Run("max wait", func(t *testing.T) {
		api := &fakeTextract{pages: []*textract.GetDocumentAnalysisOutput{{JobStatus: types.JobStatusInProgress}}}
		s := NewTextract(api, OCRConfig{PollInterval: time.Millisecond, MaxWait: 30 * time.Millisecond}, nil)
		if _, err := s.TryExtract(context.Background(), Document{Location: "s3://b/k.pdf"}); err == nil {
			t.Error("TryExtract() error = nil, want timeout")
		}
	})
}
