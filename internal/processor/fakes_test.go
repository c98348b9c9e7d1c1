package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/adverant/nexus/batch-ocr/internal/document"
)

// fakeHandle is an opened fake document
type fakeHandle struct {
	path   string
	pages  int
	closed bool
}

func (h *fakeHandle) PageCount() int { return h.pages }
func (h *fakeHandle) Close() error   { h.closed = true; return nil }

// fakeOpener serves documents from a map of path -> per-page embedded text
type fakeOpener struct {
	docs    map[string][]string
	opened  []*fakeHandle
	failFor map[string]error
}

func (o *fakeOpener) Open(path string) (document.Handle, error) {
	if err, ok := o.failFor[path]; ok {
		return nil, err
	}
	pages, ok := o.docs[path]
	if !ok {
		return nil, fmt.Errorf("no such document %s", path)
	}
	h := &fakeHandle{path: path, pages: len(pages)}
	o.opened = append(o.opened, h)
	return h, nil
}

// fakeExtractor returns the embedded text recorded in the opener
type fakeExtractor struct {
	opener  *fakeOpener
	errs    map[int]error
	calls   int
	panicOn int
}

func (e *fakeExtractor) ExtractText(ctx context.Context, h document.Handle, pageIndex int) (string, error) {
	e.calls++
	if e.panicOn > 0 && pageIndex+1 == e.panicOn {
		panic("extractor exploded")
	}
	if err, ok := e.errs[pageIndex]; ok {
		return "", err
	}
	fh := h.(*fakeHandle)
	return e.opener.docs[fh.path][pageIndex], nil
}

// fakeRenderer returns a page token as the "image"
type fakeRenderer struct {
	errs   map[int]error
	calls  int
	scales []float64
}

func (r *fakeRenderer) RenderPage(ctx context.Context, h document.Handle, pageIndex int, scale float64) ([]byte, error) {
	r.calls++
	r.scales = append(r.scales, scale)
	if err, ok := r.errs[pageIndex]; ok {
		return nil, err
	}
	return []byte(fmt.Sprintf("page-%d", pageIndex)), nil
}

// fakeRecognizer maps image bytes to spans
type fakeRecognizer struct {
	mu     sync.Mutex
	spans  map[string][]document.Span
	err    error
	calls  int
	closed bool
}

func (r *fakeRecognizer) Recognize(ctx context.Context, image []byte) ([]document.Span, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if spans, ok := r.spans[string(image)]; ok {
		return spans, nil
	}
	return []document.Span{{Text: "OCR " + string(image), Confidence: 0.9}}, nil
}

func (r *fakeRecognizer) Close() error {
	r.closed = true
	return nil
}

func lines(texts ...string) []document.Span {
	spans := make([]document.Span, 0, len(texts))
	for i, t := range texts {
		spans = append(spans, document.Span{
			Text:       t,
			Box:        BoundingBox{X: 10, Y: 10 + i*20, Width: 200, Height: 15},
			Confidence: 0.8,
			Line:       i,
		})
	}
	return spans
}
