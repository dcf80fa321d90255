package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"golang.org/x/time/rate"

	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// TextractAPI is the subset of the Textract client used for asynchronous
// table analysis.
type TextractAPI interface {
	StartDocumentAnalysis(ctx context.Context, in *textract.StartDocumentAnalysisInput, opts ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error)
	GetDocumentAnalysis(ctx context.Context, in *textract.GetDocumentAnalysisInput, opts ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error)
}

// OCRConfig tunes the submit/poll loop.
type OCRConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// TextractStrategy submits the stored document for table analysis and
// polls until the analysis finishes. It needs the document in S3.
type TextractStrategy struct {
	api TextractAPI
	cfg OCRConfig
	log *slog.Logger
}

// NewTextract creates the OCR strategy.
func NewTextract(api TextractAPI, cfg OCRConfig, log *slog.Logger) *TextractStrategy {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &TextractStrategy{api: api, cfg: cfg, log: log}
}

func (s *TextractStrategy) Name() string { return "textract" }

func (s *TextractStrategy) TryExtract(ctx context.Context, doc Document) ([]schedule.Cell, error) {
	if !strings.HasPrefix(doc.Location, "s3://") {
		return nil, fmt.Errorf("%w: ocr needs an s3 location, got %q", ErrNoResult, doc.Location)
	}
	bucket, key, err := blob.ParseS3Location(doc.Location)
	if err != nil {
		return nil, err
	}

	start, err := s.api.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)},
		},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables},
	})
	if err != nil {
		return nil, fmt.Errorf("start analysis: %w", err)
	}
	jobID := aws.ToString(start.JobId)
	s.log.Info("ocr analysis submitted", "textract_job", jobID, "location", doc.Location)

	blocks, err := s.wait(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return cellsFromBlocks(blocks), nil
}

func (s *TextractStrategy) wait(ctx context.Context, jobID string) ([]types.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxWait)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(s.cfg.PollInterval), 1)

	var (
		blocks []types.Block
		next   *string
	)
	for {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ocr analysis %s did not finish: %w", jobID, err)
		}
		out, err := s.api.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: next,
		})
		if err != nil {
			return nil, fmt.Errorf("get analysis: %w", err)
		}
		switch out.JobStatus {
		case types.JobStatusInProgress:
			continue
		case types.JobStatusFailed:
			return nil, fmt.Errorf("ocr analysis failed: %s", aws.ToString(out.StatusMessage))
		case types.JobStatusSucceeded, types.JobStatusPartialSuccess:
		default:
			return nil, fmt.Errorf("ocr analysis: unexpected status %q", out.JobStatus)
		}
		blocks = append(blocks, out.Blocks...)
		if out.NextToken == nil || *out.NextToken == "" {
			return blocks, nil
		}
		next = out.NextToken
	}
}

// cellsFromBlocks rebuilds each TABLE block as a text grid and parses it.
// Year and period come from the LINE blocks above the table on its page.
func cellsFromBlocks(blocks []types.Block) []schedule.Cell {
	byID := make(map[string]types.Block, len(blocks))
	var lines []pageLine
	var all []string
	for i, b := range blocks {
		byID[aws.ToString(b.Id)] = b
		if b.BlockType == types.BlockTypeLine {
			top, ok := blockTop(b)
			lines = append(lines, pageLine{page: aws.ToInt32(b.Page), order: i, top: top, hasTop: ok, text: aws.ToString(b.Text)})
			all = append(all, aws.ToString(b.Text))
		}
	}
	docYear := firstYear(all)

	var out []schedule.Cell
	for i, b := range blocks {
		if b.BlockType != types.BlockTypeTable {
			continue
		}
		grid := tableGrid(b, byID)
		above := linesAbove(lines, b, i)
		tc := tableContext{year: docYear, period: schedule.WholeYearPeriod}
		if len(above) > 0 {
			tc = contextFor(above, len(above)-1, docYear)
		}
		out = append(out, parseGrid(grid, tc)...)
	}
	return dedupe(out)
}

type pageLine struct {
	page   int32
	order  int
	top    float32
	hasTop bool
	text   string
}

func blockTop(b types.Block) (float32, bool) {
	if b.Geometry == nil || b.Geometry.BoundingBox == nil {
		return 0, false
	}
	return b.Geometry.BoundingBox.Top, true
}

// linesAbove returns the text of the lines on the table's page that sit
// above it, top to bottom. Position comes from the bounding boxes when both
// carry one and from block order otherwise.
func linesAbove(lines []pageLine, table types.Block, order int) []string {
	page := aws.ToInt32(table.Page)
	tableTop, hasTop := blockTop(table)
	var above []pageLine
	for _, l := range lines {
		if l.page != page {
			continue
		}
		if hasTop && l.hasTop {
			if l.top < tableTop {
				above = append(above, l)
			}
		} else if l.order < order {
			above = append(above, l)
		}
	}
	sort.SliceStable(above, func(i, j int) bool {
		if above[i].hasTop && above[j].hasTop {
			return above[i].top < above[j].top
		}
		return above[i].order < above[j].order
	})
	texts := make([]string, len(above))
	for i, l := range above {
		texts[i] = l.text
	}
	return texts
}

func tableGrid(table types.Block, byID map[string]types.Block) [][]string {
	type pos struct{ r, c int }
	cells := make(map[pos]string)
	rows, cols := 0, 0
	for _, id := range childIDs(table) {
		cell, ok := byID[id]
		if !ok || cell.BlockType != types.BlockTypeCell {
			continue
		}
		r, c := int(aws.ToInt32(cell.RowIndex)), int(aws.ToInt32(cell.ColumnIndex))
		if r < 1 || c < 1 {
			continue
		}
		var words []string
		for _, wid := range childIDs(cell) {
			if w, ok := byID[wid]; ok && w.BlockType == types.BlockTypeWord {
				words = append(words, aws.ToString(w.Text))
			}
		}
		cells[pos{r, c}] = strings.Join(words, " ")
		rows, cols = max(rows, r), max(cols, c)
	}

	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
	}
	for k, text := range cells {
		grid[k.r-1][k.c-1] = text
	}
	return grid
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}

var _ Strategy = (*TextractStrategy)(nil)
