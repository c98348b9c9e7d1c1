/**
 * OCR Types - Shared data structures for OCR operations
 */

package processor

import (
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/document"
)

// BoundingBox represents coordinates of a region
type BoundingBox = document.BoundingBox

// OCRResult represents the result of recognizing one page image
type OCRResult struct {
	Text       string
	Confidence float64
	Lines      []OCRLine
	Words      []OCRWord
	Duration   time.Duration
	Device     string
}

// OCRLine represents a recognized text line in reading order
type OCRLine struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// OCRWord represents a single word with bounding box
type OCRWord struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// Spans converts lines to document spans, numbering lines in order
func (r *OCRResult) Spans() []document.Span {
	spans := make([]document.Span, 0, len(r.Lines))
	for i, line := range r.Lines {
		spans = append(spans, document.Span{
			Text:       line.Text,
			Box:        line.BoundingBox,
			Confidence: line.Confidence,
			Line:       i,
		})
	}
	return spans
}
