/**
 * Tesseract OCR
 *
 * Offline OCR using Tesseract through gosseract. Each call gets its own
 * client; the engine lifecycle in engine.go decides when calls are allowed.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR handles OCR using Tesseract
type TesseractOCR struct {
	languages   []string
	pageSegMode gosseract.PageSegMode
	dpi         int
	variables   map[string]string
	device      string
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string
	// Orientation enables automatic orientation and script detection
	Orientation bool
	// DPI is passed to tesseract as user_defined_dpi when positive
	DPI       int
	Variables map[string]string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig, device string) *TesseractOCR {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}

	psm := gosseract.PSM_AUTO
	if cfg.Orientation {
		psm = gosseract.PSM_AUTO_OSD
	}

	return &TesseractOCR{
		languages:   langs,
		pageSegMode: psm,
		dpi:         cfg.DPI,
		variables:   cfg.Variables,
		device:      device,
	}
}

// Process performs OCR on one page image
func (t *TesseractOCR) Process(ctx context.Context, imageData []byte) (*OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages %v: %w", t.languages, err)
	}
	if err := client.SetPageSegMode(t.pageSegMode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if t.dpi > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(t.dpi)); err != nil {
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}
	for k, v := range t.variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("failed to set variable %s: %w", k, err)
		}
	}

	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	// Tesseract's result iterator walks text lines in reading order
	lineBoxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	result := &OCRResult{Device: t.device}
	var sum float64
	texts := make([]string, 0, len(lineBoxes))
	for _, b := range lineBoxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		conf := b.Confidence / 100.0
		sum += conf
		result.Lines = append(result.Lines, OCRLine{
			Text:        text,
			Confidence:  conf,
			BoundingBox: boxFromRect(b.Box),
		})
		texts = append(texts, text)
	}

	if wordBoxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil {
		for _, b := range wordBoxes {
			result.Words = append(result.Words, OCRWord{
				Text:        strings.TrimSpace(b.Word),
				Confidence:  b.Confidence / 100.0,
				BoundingBox: boxFromRect(b.Box),
			})
		}
	}

	if len(result.Lines) > 0 {
		result.Confidence = sum / float64(len(result.Lines))
	}
	result.Text = strings.Join(texts, "\n")
	result.Duration = time.Since(startTime)

	return result, nil
}

// Recognize implements document.Recognizer
func (t *TesseractOCR) Recognize(ctx context.Context, imageData []byte) ([]document.Span, error) {
	result, err := t.Process(ctx, imageData)
	if err != nil {
		return nil, err
	}
	return result.Spans(), nil
}

func boxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// NewTesseractFactory returns a RecognizerFactory that builds and probes a
// Tesseract recognizer. The probe runs recognition on a blank image so that
// missing language data surfaces at startup instead of on the first page.
func NewTesseractFactory(cfg *TesseractConfig) RecognizerFactory {
	return func(ctx context.Context, device string) (document.Recognizer, error) {
		ocr := NewTesseractOCR(cfg, device)
		if _, err := ocr.Process(ctx, blankPNG()); err != nil {
			return nil, fmt.Errorf("tesseract probe failed (languages %v): %w", ocr.languages, err)
		}
		return ocr, nil
	}
}

func blankPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
