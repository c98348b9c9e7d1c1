package processor

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/adverant/nexus/batch-ocr/internal/quality"
)

// RouteOptions controls how a page chooses between embedded text and OCR
type RouteOptions struct {
	ForceOCR         bool
	MinEmbeddedChars int
	RenderScale      float64
	// FilterOCRLines drops recognized lines the classifier rejects
	FilterOCRLines bool
	Policy         quality.Policy
}

// Router picks the text source for each page
type Router struct {
	extractor  document.TextExtractor
	renderer   document.Renderer
	recognizer document.Recognizer
	logger     *logging.Logger
}

// NewRouter wires the three capabilities a page may need
func NewRouter(extractor document.TextExtractor, renderer document.Renderer, recognizer document.Recognizer) *Router {
	return &Router{
		extractor:  extractor,
		renderer:   renderer,
		recognizer: recognizer,
		logger:     logging.NewLogger("router"),
	}
}

// RoutePage produces the text for one page. Embedded text wins when it is
// readable and long enough; otherwise the page is rendered and recognized.
// Failures are recorded on the page and never abort the document.
func (r *Router) RoutePage(ctx context.Context, doc document.Document, h document.Handle, index int, opts RouteOptions) document.Page {
	page := document.Page{Index: index, Source: document.SourceNone}

	embeddedUsable := false
	if !opts.ForceOCR {
		text, err := r.extractor.ExtractText(ctx, h, index)
		if err != nil {
			r.logger.Debug("embedded text extraction failed", "path", doc.RelPath, "page", index+1, "error", err)
		} else {
			page.EmbeddedText = text
			embeddedUsable = quality.IsReadable(text, opts.Policy)
			if embeddedUsable && utf8.RuneCountInString(text) >= opts.MinEmbeddedChars {
				page.Source = document.SourceEmbedded
				return page
			}
		}
	}

	spans, err := r.ocrPage(ctx, doc, h, index, opts)
	if err != nil {
		page.Err = err
		// Readable embedded text that only missed the length threshold is
		// better than nothing when OCR is unavailable for this page.
		if embeddedUsable {
			page.Source = document.SourceEmbedded
		}
		r.logger.Warn("page OCR failed", "path", doc.RelPath, "page", index+1, "fallback", page.Source, "error", err)
		return page
	}

	page.Spans = spans
	page.OCRText = joinSpans(spans)
	page.Source = document.SourceOCR
	return page
}

func (r *Router) ocrPage(ctx context.Context, doc document.Document, h document.Handle, index int, opts RouteOptions) ([]document.Span, error) {
	scale := opts.RenderScale
	if scale <= 0 {
		scale = 2.0
	}

	img, err := r.renderer.RenderPage(ctx, h, index, scale)
	if err != nil {
		return nil, errors.NewPageRenderError(doc.RelPath, index, err)
	}

	spans, err := r.recognizer.Recognize(ctx, img)
	if err != nil {
		return nil, errors.NewOCRFailedError(doc.RelPath, index, err)
	}

	if !opts.FilterOCRLines {
		return spans, nil
	}

	kept := spans[:0:0]
	for _, s := range spans {
		if quality.IsReadable(s.Text, opts.Policy) {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// joinSpans concatenates span texts in reading order, one per line
func joinSpans(spans []document.Span) string {
	lines := make([]string, 0, len(spans))
	for _, s := range spans {
		if t := strings.TrimSpace(s.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}
