package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
)

// FormatLine renders one status line as
// "rel | status | N pages | elapsed [| message]"
func FormatLine(l document.StatusLine) string {
	parts := []string{
		l.RelPath,
		string(l.Status),
		fmt.Sprintf("%d pages", l.Pages),
		formatElapsed(l.Elapsed),
	}
	if l.Message != "" {
		parts = append(parts, l.Message)
	}
	return strings.Join(parts, " | ")
}

// FormatTotals renders the closing totals line
func FormatTotals(s *document.BatchSummary) string {
	return fmt.Sprintf("total: %d | ok: %d | error: %d | skipped: %d | elapsed: %s",
		s.Total, s.Succeeded, s.Failed, s.Skipped, formatElapsed(s.Elapsed))
}

// RenderSummary writes the full summary report
func RenderSummary(out io.Writer, s *document.BatchSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\n", s.RunID)
	fmt.Fprintf(&b, "root: %s\n", s.Root)
	fmt.Fprintf(&b, "output: %s\n", s.OutputRoot)
	fmt.Fprintf(&b, "policy: %s\n", s.Policy)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started: %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")
	for _, l := range s.Lines {
		b.WriteString(FormatLine(l))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(FormatTotals(s))
	b.WriteString("\n")

	_, err := io.WriteString(out, b.String())
	return err
}

// WriteSummary writes _batch_summary.txt at the output root and returns its path
func (w *Writer) WriteSummary(s *document.BatchSummary) (string, error) {
	path := filepath.Join(w.outputRoot, SummaryName)
	if err := os.MkdirAll(w.outputRoot, 0755); err != nil {
		return "", errors.NewWriteError(w.outputRoot, true, err)
	}

	var b strings.Builder
	if err := RenderSummary(&b, s); err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(b.String())); err != nil {
		return "", errors.NewWriteError(path, false, err)
	}
	return path, nil
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
