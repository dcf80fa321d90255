package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino/components/document/parser"

	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// PDFLibStrategy reads the text layer with a pure Go PDF parser, one
// document per page. It copes with documents whose text runs are emitted
// column by column, where the line-oriented parser takes over.
type PDFLibStrategy struct{}

func NewPDFLib() *PDFLibStrategy { return &PDFLibStrategy{} }

func (s *PDFLibStrategy) Name() string { return "pdf-text" }

func (s *PDFLibStrategy) ReadsEmbeddedText() bool { return true }

func (s *PDFLibStrategy) TryExtract(ctx context.Context, doc Document) ([]schedule.Cell, error) {
	if !IsPDF(doc.Data) {
		return nil, fmt.Errorf("not a pdf")
	}
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: true})
	if err != nil {
		return nil, fmt.Errorf("create pdf parser: %w", err)
	}
	docs, err := p.Parse(ctx, bytes.NewReader(doc.Data), parser.WithURI(doc.Filename))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	pages := make([]string, 0, len(docs))
	var total string
	for _, d := range docs {
		pages = append(pages, d.Content)
		total += d.Content
	}
	if TextChars(total) < MinTextChars && HasEmbeddedImages(doc.Data) {
		return nil, ErrImageBased
	}
	return ParseText(pages), nil
}

var _ TextStrategy = (*PDFLibStrategy)(nil)
