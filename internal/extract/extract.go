// Package extract turns an uploaded salary schedule document into raw
// compensation cells.
//
// Extraction runs a ranked list of strategies and stops at the first one
// that yields rows. A strategy that errors, panics or finds nothing is
// recorded as an attempt and control passes to the next one; only
// exhausting every strategy is reported as a failure.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

var (
	// ErrNoResult means a strategy ran but found no schedule rows.
	ErrNoResult = errors.New("no schedule rows found")

	// ErrImageBased means the document carries negligible text but embeds
	// images, so only OCR can read it.
	ErrImageBased = errors.New("document is image based")
)

// Document is the input to every strategy.
type Document struct {
	Data     []byte
	Filename string
	// Location is the blob URI of Data; OCR reads the document from there.
	Location string
}

// Strategy is one way of reading a document.
type Strategy interface {
	Name() string
	TryExtract(ctx context.Context, doc Document) ([]schedule.Cell, error)
}

// TextStrategy marks strategies that read embedded text. They are skipped
// once any strategy reports the document as image based.
type TextStrategy interface {
	Strategy
	ReadsEmbeddedText() bool
}

// Attempt records one strategy run.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Rows     int           `json:"rows"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of Extract.
type Result struct {
	Cells    []schedule.Cell
	Method   string
	Attempts []Attempt
}

// Success reports whether any strategy produced rows.
func (r Result) Success() bool { return r.Method != "" && len(r.Cells) > 0 }

// Diagnostic summarizes which strategies ran and why they gave no result.
func (r Result) Diagnostic() string {
	parts := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		switch {
		case a.Skipped:
			parts = append(parts, a.Strategy+": skipped ("+a.Error+")")
		case a.Error != "":
			parts = append(parts, a.Strategy+": "+a.Error)
		default:
			parts = append(parts, fmt.Sprintf("%s: %d rows", a.Strategy, a.Rows))
		}
	}
	return strings.Join(parts, "; ")
}

// Extractor runs strategies in order.
type Extractor struct {
	strategies []Strategy
	log        *slog.Logger
}

// New creates an extractor over the given strategies, highest priority first.
func New(log *slog.Logger, strategies ...Strategy) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{strategies: strategies, log: log}
}

// Strategies returns the strategy names in order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract runs the strategies until one yields rows. When all fail, the
// returned error is an extraction failure whose message names every
// strategy attempted.
func (e *Extractor) Extract(ctx context.Context, doc Document) (Result, error) {
	ctx, span := otel.Tracer("paygrid/extract").Start(ctx, "extract.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("filename", doc.Filename), attribute.Int("bytes", len(doc.Data)))

	var (
		res        Result
		imageBased bool
	)
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if ts, ok := s.(TextStrategy); ok && imageBased && ts.ReadsEmbeddedText() {
			res.Attempts = append(res.Attempts, Attempt{Strategy: s.Name(), Skipped: true, Error: "image based document"})
			continue
		}

		start := time.Now()
		cells, err := e.try(ctx, s, doc)
		a := Attempt{Strategy: s.Name(), Rows: len(cells), Duration: time.Since(start)}
		if err == nil && len(cells) == 0 {
			err = ErrNoResult
		}
		if err != nil {
			a.Error = err.Error()
			if errors.Is(err, ErrImageBased) {
				imageBased = true
			}
			res.Attempts = append(res.Attempts, a)
			e.log.Info("extraction strategy gave no result",
				"strategy", s.Name(), "filename", doc.Filename, "error", err, "duration_ms", a.Duration.Milliseconds())
			continue
		}

		res.Attempts = append(res.Attempts, a)
		res.Cells = cells
		res.Method = s.Name()
		span.SetAttributes(attribute.String("method", res.Method), attribute.Int("rows", len(cells)))
		e.log.Info("extraction succeeded",
			"strategy", s.Name(), "filename", doc.Filename, "rows", len(cells), "duration_ms", a.Duration.Milliseconds())
		return res, nil
	}

	err := apperr.ExtractionFailure("all extraction strategies failed: %s", res.Diagnostic())
	span.SetStatus(codes.Error, err.Error())
	return res, err
}

func (e *Extractor) try(ctx context.Context, s Strategy, doc Document) (cells []schedule.Cell, err error) {
	ctx, span := otel.Tracer("paygrid/extract").Start(ctx, "extract."+s.Name())
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			cells, err = nil, fmt.Errorf("strategy panicked: %v", r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return s.TryExtract(ctx, doc)
}
