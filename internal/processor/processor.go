/**
 * Document Processor
 *
 * Opens one PDF, routes every page, and joins the page texts. Opening is
 * the failure-isolation boundary: a file that cannot be parsed becomes an
 * errored result, never a batch abort.
 */

package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/rotisserie/eris"
)

// PageSeparator marks page boundaries in the document text
const PageSeparator = "\n\n"

// DocumentProcessorInterface is what the batch orchestrator needs
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, doc document.Document, opts RouteOptions) *document.ProcessingResult
}

// DocumentProcessor orchestrates per-page routing for one document
type DocumentProcessor struct {
	opener document.Opener
	router *Router
	logger *logging.Logger
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Opener     document.Opener
	Extractor  document.TextExtractor
	Renderer   document.Renderer
	Recognizer document.Recognizer
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg.Opener == nil {
		return nil, fmt.Errorf("Opener is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("Extractor is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("Renderer is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("Recognizer is required")
	}

	return &DocumentProcessor{
		opener: cfg.Opener,
		router: NewRouter(cfg.Extractor, cfg.Renderer, cfg.Recognizer),
		logger: logging.NewLogger("processor"),
	}, nil
}

// ProcessDocument converts one document. It always returns a result; the
// result's Err is set when the document as a whole failed.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, doc document.Document, opts RouteOptions) (result *document.ProcessingResult) {
	startTime := time.Now()
	result = &document.ProcessingResult{Document: doc}

	defer func() {
		if r := recover(); r != nil {
			result.Err = eris.Errorf("panic while processing %s: %v", doc.RelPath, r)
			result.Text = ""
			p.logger.Error("recovered panic", "path", doc.RelPath, "panic", fmt.Sprint(r))
		}
		result.Elapsed = time.Since(startTime)
	}()

	h, err := p.opener.Open(doc.AbsPath)
	if err != nil {
		result.Err = errors.NewDocumentOpenError(doc.RelPath, err)
		return result
	}
	defer h.Close()

	doc.PageCount = h.PageCount()
	result.Document = doc
	result.Pages = make([]document.Page, 0, doc.PageCount)

	for i := 0; i < doc.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			result.Err = eris.Wrapf(err, "interrupted after %d of %d pages", i, doc.PageCount)
			return result
		}
		result.Pages = append(result.Pages, p.router.RoutePage(ctx, doc, h, i, opts))
	}

	result.Text = JoinPages(result.Pages)

	counts := result.SourceCounts()
	p.logger.Debug("document routed",
		"path", doc.RelPath,
		"pages", doc.PageCount,
		"embedded", counts[document.SourceEmbedded],
		"ocr", counts[document.SourceOCR],
		"failed", result.PageFailures())

	return result
}

// JoinPages concatenates non-empty page texts with a blank line between pages
func JoinPages(pages []document.Page) string {
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if t := strings.TrimSpace(page.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, PageSeparator)
}
