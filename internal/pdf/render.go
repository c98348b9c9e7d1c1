package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// PointsPerInch is the PDF user-space unit; render scale 1.0 is 72 DPI
const PointsPerInch = 72

// DPIForScale converts a render scale to a rasterization DPI
func DPIForScale(scale float64) int {
	return int(math.Round(PointsPerInch * scale))
}

// PopplerRenderer rasterizes pages with poppler's pdftoppm
type PopplerRenderer struct {
	binary string
}

// NewPopplerRenderer creates a renderer that runs the given pdftoppm binary
func NewPopplerRenderer(binary string) *PopplerRenderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &PopplerRenderer{binary: binary}
}

// Available reports whether the pdftoppm binary can be found
func (r *PopplerRenderer) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

// RenderPage renders one page to PNG bytes
func (r *PopplerRenderer) RenderPage(ctx context.Context, h document.Handle, pageIndex int, scale float64) ([]byte, error) {
	f, ok := h.(*File)
	if !ok {
		return nil, fmt.Errorf("unsupported handle type %T", h)
	}

	tmpDir, err := os.MkdirTemp("", "batchocr-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	page := strconv.Itoa(pageIndex + 1)
	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, r.binary,
		"-png",
		"-r", strconv.Itoa(DPIForScale(scale)),
		"-f", page, "-l", page,
		"-singlefile",
		f.Path(), prefix)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %s: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image for page %s: %w", page, err)
	}
	return data, nil
}

// ImageRenderer builds a page raster from the largest image embedded on the
// page. Scanned documents are usually one full-page image per page, so this
// serves as a renderer when pdftoppm is missing or fails.
type ImageRenderer struct{}

// NewImageRenderer creates an ImageRenderer
func NewImageRenderer() *ImageRenderer {
	return &ImageRenderer{}
}

// RenderPage extracts, scales and PNG-encodes the page's main image
func (r *ImageRenderer) RenderPage(ctx context.Context, h document.Handle, pageIndex int, scale float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, ok := h.(*File)
	if !ok {
		return nil, fmt.Errorf("unsupported handle type %T", h)
	}

	cpu, err := f.pdfcpuContext()
	if err != nil {
		return nil, err
	}

	pageNr := pageIndex + 1
	images, err := pdfcpu.ExtractPageImages(cpu, pageNr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images from page %d: %w", pageNr, err)
	}

	var best image.Image
	bestArea := 0
	for _, img := range images {
		decoded, _, err := image.Decode(img)
		if err != nil {
			continue
		}
		b := decoded.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = decoded, area
		}
	}
	if best == nil {
		return nil, fmt.Errorf("page %d has no decodable embedded image", pageNr)
	}

	targetWidth := 0
	if dims, err := cpu.PageDims(); err == nil && pageIndex < len(dims) {
		targetWidth = int(math.Round(dims[pageIndex].Width * scale))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, ScaleToWidth(best, targetWidth)); err != nil {
		return nil, fmt.Errorf("failed to encode page %d image: %w", pageNr, err)
	}
	return buf.Bytes(), nil
}

// ScaleToWidth resizes img to width, keeping its aspect ratio. A width of
// zero or the image's own width returns img unchanged.
func ScaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width == b.Dx() || b.Dx() == 0 {
		return img
	}
	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// FallbackRenderer tries each renderer in turn
type FallbackRenderer struct {
	renderers []document.Renderer
	logger    *logging.Logger
}

// NewFallbackRenderer chains renderers in priority order
func NewFallbackRenderer(logger *logging.Logger, renderers ...document.Renderer) *FallbackRenderer {
	return &FallbackRenderer{renderers: renderers, logger: logger}
}

// RenderPage returns the first successful rendering
func (r *FallbackRenderer) RenderPage(ctx context.Context, h document.Handle, pageIndex int, scale float64) ([]byte, error) {
	var lastErr error
	for i, renderer := range r.renderers {
		data, err := renderer.RenderPage(ctx, h, pageIndex, scale)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if r.logger != nil && i+1 < len(r.renderers) {
			r.logger.Debug("renderer failed, trying next", "renderer", fmt.Sprintf("%T", renderer), "page", pageIndex+1, "error", err)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no renderer configured")
	}
	return nil, lastErr
}

// NewDefaultRenderer prefers pdftoppm and falls back to embedded images
func NewDefaultRenderer(pdftoppm string, logger *logging.Logger) *FallbackRenderer {
	poppler := NewPopplerRenderer(pdftoppm)
	if !poppler.Available() {
		if logger != nil {
			logger.Warn("pdftoppm not found, OCR will use embedded page images only", "binary", pdftoppm)
		}
		return NewFallbackRenderer(logger, NewImageRenderer())
	}
	return NewFallbackRenderer(logger, poppler, NewImageRenderer())
}
