package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T, docs map[string][]string) (*DocumentProcessor, *fakeOpener, *fakeExtractor, *fakeRecognizer) {
	t.Helper()
	opener := &fakeOpener{docs: docs}
	extractor := &fakeExtractor{opener: opener}
	recognizer := &fakeRecognizer{}
	p, err := NewDocumentProcessor(&ProcessorConfig{
		Opener:     opener,
		Extractor:  extractor,
		Renderer:   &fakeRenderer{},
		Recognizer: recognizer,
	})
	require.NoError(t, err)
	return p, opener, extractor, recognizer
}

func TestNewDocumentProcessorRequiresCapabilities(t *testing.T) {
	_, err := NewDocumentProcessor(&ProcessorConfig{})
	assert.Error(t, err)

	_, err = NewDocumentProcessor(&ProcessorConfig{Opener: &fakeOpener{}, Extractor: &fakeExtractor{}, Renderer: &fakeRenderer{}})
	assert.Error(t, err)
}

func TestProcessDocumentMixedSources(t *testing.T) {
	p, opener, _, _ := newTestProcessor(t, map[string][]string{
		"/r/a.pdf": {"Hello World", "", "Another embedded page"},
	})

	result := p.ProcessDocument(context.Background(), document.Document{AbsPath: "/r/a.pdf", RelPath: "a.pdf"}, defaultOpts())

	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Document.PageCount)
	assert.Equal(t, "Hello World\n\nOCR page-1\n\nAnother embedded page", result.Text)
	assert.Equal(t, map[document.Source]int{document.SourceEmbedded: 2, document.SourceOCR: 1}, result.SourceCounts())
	require.Len(t, opener.opened, 1)
	assert.True(t, opener.opened[0].closed)
}

func TestProcessDocumentZeroPages(t *testing.T) {
	p, _, _, _ := newTestProcessor(t, map[string][]string{"/r/empty.pdf": {}})

	result := p.ProcessDocument(context.Background(), document.Document{AbsPath: "/r/empty.pdf", RelPath: "empty.pdf"}, defaultOpts())

	require.NoError(t, result.Err)
	assert.True(t, result.OK())
	assert.Equal(t, "", result.Text)
	assert.Empty(t, result.Pages)
}

func TestProcessDocumentOpenFailure(t *testing.T) {
	p, opener, _, _ := newTestProcessor(t, map[string][]string{})
	opener.failFor = map[string]error{"/r/bad.pdf": fmt.Errorf("not a PDF file: invalid header")}

	result := p.ProcessDocument(context.Background(), document.Document{AbsPath: "/r/bad.pdf", RelPath: "bad.pdf"}, defaultOpts())

	require.Error(t, result.Err)
	assert.Equal(t, errors.ErrorDocumentOpenFailed, errors.CodeOf(result.Err))
	assert.False(t, errors.IsFatal(result.Err))
	assert.Empty(t, result.Text)
}

func TestProcessDocumentPageFailureKeepsOtherPages(t *testing.T) {
	opener := &fakeOpener{docs: map[string][]string{"/r/a.pdf": {"", "Good embedded page"}}}
	p, err := NewDocumentProcessor(&ProcessorConfig{
		Opener:     opener,
		Extractor:  &fakeExtractor{opener: opener},
		Renderer:   &fakeRenderer{errs: map[int]error{0: fmt.Errorf("render failed")}},
		Recognizer: &fakeRecognizer{},
	})
	require.NoError(t, err)

	result := p.ProcessDocument(context.Background(), document.Document{AbsPath: "/r/a.pdf", RelPath: "a.pdf"}, defaultOpts())

	require.NoError(t, result.Err)
	assert.Equal(t, "Good embedded page", result.Text)
	assert.Equal(t, 1, result.PageFailures())
}

func TestProcessDocumentRecoversPanics(t *testing.T) {
	opener := &fakeOpener{docs: map[string][]string{"/r/a.pdf": {"x", "y"}}}
	p, err := NewDocumentProcessor(&ProcessorConfig{
		Opener:     opener,
		Extractor:  &fakeExtractor{opener: opener, panicOn: 2},
		Renderer:   &fakeRenderer{},
		Recognizer: &fakeRecognizer{},
	})
	require.NoError(t, err)

	result := p.ProcessDocument(context.Background(), document.Document{AbsPath: "/r/a.pdf", RelPath: "a.pdf"}, defaultOpts())

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "extractor exploded")
	assert.Empty(t, result.Text)
	assert.True(t, opener.opened[0].closed)
}

func TestProcessDocumentCancelled(t *testing.T) {
	p, _, extractor, _ := newTestProcessor(t, map[string][]string{"/r/a.pdf": {"Hello World", "Hello again"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := p.ProcessDocument(ctx, document.Document{AbsPath: "/r/a.pdf", RelPath: "a.pdf"}, defaultOpts())

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Zero(t, extractor.calls)
}
