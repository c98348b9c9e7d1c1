/**
 * Document model shared by the pipeline stages
 *
 * A Document is discovered once, opened once, and each of its pages is
 * routed to either its embedded text layer or OCR. The capability
 * interfaces at the bottom are the only contact points with the PDF
 * library and the OCR engine.
 */

package document

import (
	"context"
	"path"
	"strings"
	"time"
)

// Source tags where a page's text came from
type Source string

const (
	SourceEmbedded Source = "embedded"
	SourceOCR      Source = "ocr"
	SourceNone     Source = "none"
)

// Document is one input PDF. RelPath is slash-separated and relative to the
// scan root.
type Document struct {
	AbsPath   string
	RelPath   string
	PageCount int
}

// RelDir returns the slash-separated directory of RelPath ("" at the root)
func (d Document) RelDir() string {
	dir := path.Dir(d.RelPath)
	if dir == "." {
		return ""
	}
	return dir
}

// Stem returns the file name without its extension
func (d Document) Stem() string {
	base := path.Base(d.RelPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// BoundingBox represents coordinates of a region in image pixels
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Span is one unit of recognized text, usually a line
type Span struct {
	Text       string      `json:"text"`
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Block      int         `json:"block"`
	Line       int         `json:"line"`
}

// Page is one page of a Document during processing
type Page struct {
	Index        int
	EmbeddedText string
	OCRText      string
	Source       Source
	Spans        []Span
	Err          error
}

// Text returns the text chosen for the page
func (p Page) Text() string {
	switch p.Source {
	case SourceEmbedded:
		return p.EmbeddedText
	case SourceOCR:
		return p.OCRText
	default:
		return ""
	}
}

// ProcessingResult is the outcome of processing one Document
type ProcessingResult struct {
	Document Document
	Text     string
	Pages    []Page
	Err      error
	Elapsed  time.Duration
	// Notes carries non-fatal remarks for the summary (structure export
	// failures and similar)
	Notes []string
}

// OK reports whether the document produced text
func (r *ProcessingResult) OK() bool {
	return r.Err == nil
}

// PageFailures counts pages whose routing recorded an error
func (r *ProcessingResult) PageFailures() int {
	n := 0
	for _, p := range r.Pages {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// SourceCounts tallies pages by source
func (r *ProcessingResult) SourceCounts() map[Source]int {
	counts := make(map[Source]int, 3)
	for _, p := range r.Pages {
		counts[p.Source]++
	}
	return counts
}

// Handle is an opened PDF
type Handle interface {
	PageCount() int
	Close() error
}

// Opener opens PDF files
type Opener interface {
	Open(path string) (Handle, error)
}

// TextExtractor returns the embedded text layer of a page
type TextExtractor interface {
	ExtractText(ctx context.Context, h Handle, pageIndex int) (string, error)
}

// Renderer rasterizes a page to PNG bytes at the given scale (1.0 = 72 DPI)
type Renderer interface {
	RenderPage(ctx context.Context, h Handle, pageIndex int, scale float64) ([]byte, error)
}

// Recognizer runs OCR on an image and returns spans in reading order
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]Span, error)
}
