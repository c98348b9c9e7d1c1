package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/output"
	"github.com/adverant/nexus/batch-ocr/internal/pdf"
	"github.com/adverant/nexus/batch-ocr/internal/processor"
	"github.com/adverant/nexus/batch-ocr/internal/progress"
	"github.com/adverant/nexus/batch-ocr/internal/quality"
	"github.com/adverant/nexus/batch-ocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRenderer hands the page index to the recognizer as the "image"
type stubRenderer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (r *stubRenderer) RenderPage(ctx context.Context, h document.Handle, pageIndex int, scale float64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return nil, fmt.Errorf("renderer unavailable")
	}
	return []byte(fmt.Sprintf("page %d", pageIndex+1)), nil
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(ctx context.Context, image []byte) ([]document.Span, error) {
	return []document.Span{
		{Text: "Recognized text from " + string(image), Confidence: 0.9},
		{Text: "@@##", Confidence: 0.2},
	}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Report(_ context.Context, e progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

type harness struct {
	root     string
	writer   *output.Writer
	renderer *stubRenderer
	events   *eventLog
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		root:     root,
		writer:   output.NewWriter(filepath.Join(root, "ocr_results"), filepath.Join(root, "doc_results")),
		renderer: &stubRenderer{},
		events:   &eventLog{},
	}

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Opener:     pdf.NewOpener(),
		Extractor:  pdf.NewTextExtractor(),
		Renderer:   h.renderer,
		Recognizer: stubRecognizer{},
	})
	require.NoError(t, err)

	h.orch, err = NewOrchestrator(&OrchestratorConfig{
		Processor: proc,
		Writer:    h.writer,
		Reporter:  h.events,
	})
	require.NoError(t, err)
	return h
}

func defaultOptions(minChars int) Options {
	return Options{Route: processor.RouteOptions{
		MinEmbeddedChars: minChars,
		RenderScale:      2.0,
		FilterOCRLines:   true,
		Policy:           quality.DefaultPolicy(),
	}}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunMixedDocuments(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "a/b/doc1.pdf", "Hello World")
	testutil.WritePDF(t, h.root, "a/doc2.pdf", "")

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, quality.VersionRatioV2, summary.Policy)

	assert.Equal(t, "Hello World", readFile(t, h.writer.TextPath("a/b/doc1.pdf")))
	assert.Equal(t, "Recognized text from page 1", readFile(t, h.writer.TextPath("a/doc2.pdf")))
	assert.Equal(t, 1, h.renderer.calls, "only the scanned page is rendered")

	summaryText := readFile(t, filepath.Join(h.writer.OutputRoot(), output.SummaryName))
	assert.Contains(t, summaryText, "a/b/doc1.pdf | ok | 1 pages")
	assert.Contains(t, summaryText, "a/doc2.pdf | ok | 1 pages")
	assert.Contains(t, summaryText, "total: 2 | ok: 2 | error: 0 | skipped: 0")
}

func TestRunIsolatesBrokenDocument(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFile(t, h.root, "bad.pdf", []byte("this is not a PDF"))
	testutil.WritePDF(t, h.root, "good.pdf", "A perfectly readable page of text")

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	report := readFile(t, h.writer.ErrorPath("bad.pdf"))
	assert.True(t, strings.HasPrefix(report, "ERROR: "+string(errors.ErrorDocumentOpenFailed)))
	assert.NoFileExists(t, h.writer.TextPath("bad.pdf"))
	assert.FileExists(t, h.writer.TextPath("good.pdf"))

	var badLine document.StatusLine
	for _, l := range summary.Lines {
		if l.RelPath == "bad.pdf" {
			badLine = l
		}
	}
	assert.Equal(t, document.StatusError, badLine.Status)
	assert.Contains(t, badLine.Message, "DOCUMENT_OPEN_FAILED")
}

func TestRunForceOCR(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "doc.pdf", "Embedded text that would normally win", "Second page")

	opts := defaultOptions(5)
	opts.Route.ForceOCR = true
	summary, err := h.orch.Run(context.Background(), h.root, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, h.renderer.calls)
	assert.Equal(t,
		"Recognized text from page 1\n\nRecognized text from page 2",
		readFile(t, h.writer.TextPath("doc.pdf")))
}

func TestRunZeroPageDocument(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "empty.pdf")

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, "", readFile(t, h.writer.TextPath("empty.pdf")))
	assert.Zero(t, h.renderer.calls)
}

func TestRunPageFailureKeepsDocument(t *testing.T) {
	h := newHarness(t)
	h.renderer.fail = true
	testutil.WritePDF(t, h.root, "doc.pdf", "Readable first page", "")

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, "Readable first page", readFile(t, h.writer.TextPath("doc.pdf")))
	require.Len(t, summary.Lines, 1)
	assert.Contains(t, summary.Lines[0].Message, "1 page(s) failed")
	assert.Contains(t, summary.Lines[0].Message, string(errors.ErrorPageRenderFailed))
}

func TestRerunReplacesStaleCounterpart(t *testing.T) {
	h := newHarness(t)
	path := testutil.WriteFile(t, h.root, "flaky.pdf", []byte("garbage"))

	_, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)
	assert.FileExists(t, h.writer.ErrorPath("flaky.pdf"))

	require.NoError(t, os.WriteFile(path, testutil.BuildPDF([]string{"Now it parses fine"}), 0644))
	_, err = h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.FileExists(t, h.writer.TextPath("flaky.pdf"))
	assert.NoFileExists(t, h.writer.ErrorPath("flaky.pdf"))
}

func TestRunIsDeterministic(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "x/one.pdf", "First document text")
	testutil.WritePDF(t, h.root, "y/two.pdf", "")

	_, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)
	first := map[string]string{
		"one": readFile(t, h.writer.TextPath("x/one.pdf")),
		"two": readFile(t, h.writer.TextPath("y/two.pdf")),
	}

	_, err = h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)
	assert.Equal(t, first["one"], readFile(t, h.writer.TextPath("x/one.pdf")))
	assert.Equal(t, first["two"], readFile(t, h.writer.TextPath("y/two.pdf")))
}

func TestRunDoesNotRescanOutputTree(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "doc.pdf", "Some text here")
	// a PDF that happens to live in the output folder must be ignored
	testutil.WritePDF(t, h.root, "ocr_results/stray.pdf", "Stray")

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

func TestRunInterrupted(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "a.pdf", "Alpha text")
	testutil.WritePDF(t, h.root, "b.pdf", "Beta text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orch.Run(ctx, h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Skipped)
	for _, rel := range []string{"a.pdf", "b.pdf"} {
		assert.NoFileExists(t, h.writer.TextPath(rel))
		assert.NoFileExists(t, h.writer.ErrorPath(rel))
	}
	assert.FileExists(t, filepath.Join(h.writer.OutputRoot(), output.SummaryName))
}

func TestRunOutputConflictKeepsEarlierResult(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "a/doc.PDF", "Upper case text")
	testutil.WritePDF(t, h.root, "a/doc.pdf", "Lower case text")
	docs, err := List(h.root, h.writer)
	require.NoError(t, err)
	if len(docs) < 2 {
		t.Skip("filesystem is case-insensitive")
	}

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "Upper case text", readFile(t, h.writer.TextPath("a/doc.PDF")))
	assert.NoFileExists(t, h.writer.ErrorPath("a/doc.pdf"))

	require.Len(t, summary.Lines, 2)
	assert.Equal(t, document.StatusError, summary.Lines[1].Status)
	assert.Equal(t, errors.ErrorOutputConflict, errors.CodeOf(summary.Lines[1].Err))
	assert.Contains(t, summary.Lines[1].Message, "a/doc.PDF")

	summaryText := readFile(t, filepath.Join(h.writer.OutputRoot(), output.SummaryName))
	assert.Contains(t, summaryText, "a/doc.pdf | error")
	assert.Contains(t, summaryText, "OUTPUT_CONFLICT")
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orch.Run(context.Background(), filepath.Join(h.root, "nope"), defaultOptions(5))
		require.Error(t, err)
		assert.Equal(t, errors.ErrorDiscoveryFailed, errors.CodeOf(err))
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("no pdfs", func(t *testing.T) {
		h := newHarness(t)
		testutil.WriteFile(t, h.root, "notes.txt", []byte("hi"))
		_, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
		require.Error(t, err)
		assert.Equal(t, errors.ErrorDiscoveryFailed, errors.CodeOf(err))
	})

	t.Run("unwritable output root", func(t *testing.T) {
		h := newHarness(t)
		testutil.WritePDF(t, h.root, "doc.pdf", "Text")
		blocker := testutil.WriteFile(t, h.root, "blocker", []byte("x"))

		proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
			Opener:     pdf.NewOpener(),
			Extractor:  pdf.NewTextExtractor(),
			Renderer:   h.renderer,
			Recognizer: stubRecognizer{},
		})
		require.NoError(t, err)
		orch, err := NewOrchestrator(&OrchestratorConfig{
			Processor: proc,
			Writer:    output.NewWriter(filepath.Join(blocker, "out"), ""),
		})
		require.NoError(t, err)

		_, err = orch.Run(context.Background(), h.root, defaultOptions(5))
		require.Error(t, err)
		assert.Equal(t, errors.ErrorWriteFailed, errors.CodeOf(err))
		assert.True(t, errors.IsFatal(err))
	})
}

func TestRunStructureMode(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "reports/q1.pdf", "QUARTERLY REPORT", "")

	opts := defaultOptions(5)
	opts.Structure = true
	opts.Exports = output.Exports{Text: false, JSON: true, Markdown: true, HTML: true}

	summary, err := h.orch.Run(context.Background(), h.root, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, summary.Lines[0].Message)

	dir := h.writer.StructureDir("reports/q1.pdf")
	assert.FileExists(t, filepath.Join(dir, "page_001.json"))
	assert.FileExists(t, filepath.Join(dir, "page_002.md"))
	assert.FileExists(t, filepath.Join(dir, "document.html"))
	assert.NoFileExists(t, h.writer.TextPath("reports/q1.pdf"))
}

func TestRunReportsProgress(t *testing.T) {
	h := newHarness(t)
	testutil.WritePDF(t, h.root, "one.pdf", "Some text")
	testutil.WritePDF(t, h.root, "two.pdf", "More text")

	summary, err := h.orch.Run(context.Background(), h.root, defaultOptions(5))
	require.NoError(t, err)

	var types []progress.EventType
	for _, e := range h.events.events {
		types = append(types, e.Type)
		assert.Equal(t, summary.RunID, e.RunID)
	}
	assert.Equal(t, []progress.EventType{
		progress.EventRunStarted,
		progress.EventDocumentStarted,
		progress.EventDocumentFinished,
		progress.EventDocumentStarted,
		progress.EventDocumentFinished,
		progress.EventRunFinished,
	}, types)
}

type panickingProcessor struct{}

func (panickingProcessor) ProcessDocument(ctx context.Context, doc document.Document, opts processor.RouteOptions) *document.ProcessingResult {
	panic("unexpected")
}

func TestRunRecoversDocumentPanic(t *testing.T) {
	root := t.TempDir()
	testutil.WritePDF(t, root, "doc.pdf", "Text")
	writer := output.NewWriter(filepath.Join(root, "ocr_results"), "")

	orch, err := NewOrchestrator(&OrchestratorConfig{Processor: panickingProcessor{}, Writer: writer})
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), root, defaultOptions(5))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, readFile(t, writer.ErrorPath("doc.pdf")), "panic while processing doc.pdf")
}

func TestNewOrchestratorValidation(t *testing.T) {
	_, err := NewOrchestrator(&OrchestratorConfig{Writer: output.NewWriter("/tmp/x", "")})
	assert.Error(t, err)
	_, err = NewOrchestrator(&OrchestratorConfig{Processor: panickingProcessor{}})
	assert.Error(t, err)
}
