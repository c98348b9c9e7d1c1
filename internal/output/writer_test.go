package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	root := t.TempDir()
	return NewWriter(filepath.Join(root, "ocr_results"), filepath.Join(root, "doc_results")), root
}

func TestMirroredPaths(t *testing.T) {
	w := NewWriter("/out", "/struct")

	assert.Equal(t, filepath.FromSlash("/out/a/b/doc1_ocr.txt"), w.TextPath("a/b/doc1.pdf"))
	assert.Equal(t, filepath.FromSlash("/out/a/b/doc1_ERROR.txt"), w.ErrorPath("a/b/doc1.pdf"))
	assert.Equal(t, filepath.FromSlash("/out/doc2_ocr.txt"), w.TextPath("doc2.PDF"))
	assert.Equal(t, filepath.FromSlash("/struct/a/b/doc1"), w.StructureDir("a/b/doc1.pdf"))

	// pure: same input, same output
	assert.Equal(t, w.TextPath("x/y.pdf"), w.TextPath("x/y.pdf"))
}

func TestWriteResultSuccess(t *testing.T) {
	w, _ := newTestWriter(t)
	r := &document.ProcessingResult{
		Document: document.Document{RelPath: "a/b/doc1.pdf", PageCount: 1},
		Text:     "Hello World",
	}

	require.NoError(t, w.WriteResult(r, true))

	data, err := os.ReadFile(w.TextPath("a/b/doc1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(data))
	assert.NoFileExists(t, w.ErrorPath("a/b/doc1.pdf"))
}

func TestWriteResultEmptyText(t *testing.T) {
	w, _ := newTestWriter(t)
	r := &document.ProcessingResult{Document: document.Document{RelPath: "empty.pdf"}}

	require.NoError(t, w.WriteResult(r, true))

	data, err := os.ReadFile(w.TextPath("empty.pdf"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWriteResultFailure(t *testing.T) {
	w, _ := newTestWriter(t)
	r := &document.ProcessingResult{
		Document: document.Document{RelPath: "bad.pdf"},
		Err:      errors.NewDocumentOpenError("bad.pdf", fmt.Errorf("not a PDF")),
	}

	require.NoError(t, w.WriteResult(r, true))

	data, err := os.ReadFile(w.ErrorPath("bad.pdf"))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "ERROR: DOCUMENT_OPEN_FAILED"))
	assert.Contains(t, content, "not a PDF")
	assert.NoFileExists(t, w.TextPath("bad.pdf"))
}

func TestWriteResultReplacesStaleCounterpart(t *testing.T) {
	w, _ := newTestWriter(t)
	doc := document.Document{RelPath: "flip/doc.pdf"}

	require.NoError(t, w.WriteResult(&document.ProcessingResult{Document: doc, Err: fmt.Errorf("boom")}, true))
	assert.FileExists(t, w.ErrorPath(doc.RelPath))

	require.NoError(t, w.WriteResult(&document.ProcessingResult{Document: doc, Text: "fixed"}, true))
	assert.FileExists(t, w.TextPath(doc.RelPath))
	assert.NoFileExists(t, w.ErrorPath(doc.RelPath))

	require.NoError(t, w.WriteResult(&document.ProcessingResult{Document: doc, Err: fmt.Errorf("boom again")}, true))
	assert.FileExists(t, w.ErrorPath(doc.RelPath))
	assert.NoFileExists(t, w.TextPath(doc.RelPath))
}

func TestWriteResultWithoutText(t *testing.T) {
	w, _ := newTestWriter(t)
	r := &document.ProcessingResult{Document: document.Document{RelPath: "a.pdf"}, Text: "text"}

	require.NoError(t, w.WriteResult(r, false))
	assert.NoFileExists(t, w.TextPath("a.pdf"))
}

func TestWriteResultLeavesNoTempFiles(t *testing.T) {
	w, _ := newTestWriter(t)
	r := &document.ProcessingResult{Document: document.Document{RelPath: "dir/a.pdf"}, Text: "text"}
	require.NoError(t, w.WriteResult(r, true))

	entries, err := os.ReadDir(filepath.Join(w.OutputRoot(), "dir"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_ocr.txt", entries[0].Name())
}

func TestProbe(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.Probe())
	assert.DirExists(t, w.OutputRoot())
}

func TestProbeUnwritableRoot(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	// a regular file where the output directory should be
	w := NewWriter(filepath.Join(blocker, "ocr_results"), "")
	err := w.Probe()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, errors.ErrorWriteFailed, errors.CodeOf(err))
}

func TestProbeReadOnlyRoot(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	out := filepath.Join(root, "ro")
	require.NoError(t, os.Mkdir(out, 0555))
	t.Cleanup(func() { os.Chmod(out, 0755) })

	err := NewWriter(out, "").Probe()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestWriteSummary(t *testing.T) {
	w, _ := newTestWriter(t)
	s := &document.BatchSummary{
		RunID:      "run-1",
		Root:       "/data",
		OutputRoot: w.OutputRoot(),
		Policy:     "ratio-v2",
		StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Elapsed:    1500 * time.Millisecond,
	}
	s.Add(&document.ProcessingResult{
		Document: document.Document{RelPath: "a/b/doc1.pdf", PageCount: 1},
		Elapsed:  250 * time.Millisecond,
	})
	s.Add(&document.ProcessingResult{
		Document: document.Document{RelPath: "bad.pdf"},
		Err:      fmt.Errorf("DOCUMENT_OPEN_FAILED: cannot open"),
	})

	path, err := w.WriteSummary(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.OutputRoot(), SummaryName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "run: run-1\n")
	assert.Contains(t, content, "started: 2026-01-02T03:04:05Z\n")
	assert.Contains(t, content, "a/b/doc1.pdf | ok | 1 pages | 0.25s\n")
	assert.Contains(t, content, "bad.pdf | error | 0 pages | 0.00s | DOCUMENT_OPEN_FAILED: cannot open\n")
	assert.Contains(t, content, "total: 2 | ok: 1 | error: 1 | skipped: 0 | elapsed: 1.50s\n")
}

func TestWriteStructure(t *testing.T) {
	w, _ := newTestWriter(t)
	pages := []document.Page{
		{Index: 0, Source: document.SourceEmbedded, EmbeddedText: "OVERVIEW\n\nFirst page body."},
		{Index: 1, Source: document.SourceEmbedded, EmbeddedText: "k | v | n\nx | 1 | 2"},
	}
	sd, err := processor.NewLayoutAnalyzer().Parse(context.Background(), document.Document{RelPath: "a/report.pdf"}, pages)
	require.NoError(t, err)

	require.NoError(t, w.WriteStructure("a/report.pdf", sd, Exports{JSON: true, Markdown: true, HTML: true}))

	dir := w.StructureDir("a/report.pdf")
	assert.FileExists(t, filepath.Join(dir, "page_001.json"))
	assert.FileExists(t, filepath.Join(dir, "page_002.json"))
	assert.FileExists(t, filepath.Join(dir, "page_001.md"))

	data, err := os.ReadFile(filepath.Join(dir, "page_001.json"))
	require.NoError(t, err)
	var page processor.StructuredPage
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Equal(t, 1, page.PageNumber)
	assert.NotEmpty(t, page.Regions)

	html, err := os.ReadFile(filepath.Join(dir, "document.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h2>OVERVIEW</h2>")
	assert.Contains(t, string(html), "<table>")
}

func TestWriteStructureSelectedFormats(t *testing.T) {
	w, _ := newTestWriter(t)
	sd := &processor.StructuredDocument{Path: "x.pdf", Pages: []processor.StructuredPage{{PageNumber: 1}}}

	require.NoError(t, w.WriteStructure("x.pdf", sd, Exports{Markdown: true}))

	dir := w.StructureDir("x.pdf")
	assert.FileExists(t, filepath.Join(dir, "page_001.md"))
	assert.NoFileExists(t, filepath.Join(dir, "page_001.json"))
	assert.NoFileExists(t, filepath.Join(dir, "document.html"))

	require.NoError(t, w.WriteStructure("none.pdf", sd, Exports{}))
	assert.NoDirExists(t, w.StructureDir("none.pdf"))
}

func TestErrorReport(t *testing.T) {
	report := ErrorReport(fmt.Errorf("plain failure"))
	assert.True(t, strings.HasPrefix(report, "ERROR: plain failure\n\n"))
}
