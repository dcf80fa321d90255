package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// Runner lets tests stub external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Log *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)
	if err != nil {
		log.Warn("exec failed",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		log.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// PdftotextStrategy reads the text layer with poppler's pdftotext in
// layout mode and parses it.
type PdftotextStrategy struct {
	Path   string
	Runner Runner
}

// NewPdftotext creates the strategy. An empty path means "pdftotext" on PATH.
func NewPdftotext(path string, r Runner) *PdftotextStrategy {
	if path == "" {
		path = "pdftotext"
	}
	if r == nil {
		r = ExecRunner{}
	}
	return &PdftotextStrategy{Path: path, Runner: r}
}

func (s *PdftotextStrategy) Name() string { return "pdftotext" }

func (s *PdftotextStrategy) ReadsEmbeddedText() bool { return true }

func (s *PdftotextStrategy) TryExtract(ctx context.Context, doc Document) ([]schedule.Cell, error) {
	if !IsPDF(doc.Data) {
		return nil, fmt.Errorf("not a pdf")
	}
	tmp, err := os.CreateTemp("", "paygrid-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(doc.Data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	// pdftotext -layout -enc UTF-8 -eol unix <in.pdf> -
	out, errb, err := s.Runner.Run(ctx, s.Path, "-layout", "-enc", "UTF-8", "-eol", "unix", tmp.Name(), "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 256))
	}
	text := string(out)

	switch v := JudgeText(text, doc.Data); v {
	case TextImageBased:
		return nil, ErrImageBased
	case TextUsable:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoResult, v)
	}
	return ParseText(SplitPages(text)), nil
}

var _ TextStrategy = (*PdftotextStrategy)(nil)
