/**
 * PDF access for the batch pipeline
 *
 * The text layer is read with ledongthuc/pdf. Files that library cannot
 * parse are retried with pdfcpu, which is stricter about structure but more
 * tolerant of damaged cross-reference tables. A file neither can read is a
 * DocumentOpenError.
 */

package pdf

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// keep pdfcpu from creating a config directory in the user's home
	model.ConfigPath = "disable"
}

// File is an opened PDF. It satisfies document.Handle.
type File struct {
	path      string
	pageCount int

	fh     *os.File
	reader *pdf.Reader

	cpuOnce sync.Once
	cpuCtx  *model.Context
	cpuErr  error
}

// Path returns the file path the handle was opened from
func (f *File) Path() string {
	return f.path
}

// PageCount returns the number of pages
func (f *File) PageCount() int {
	return f.pageCount
}

// HasTextLayer reports whether embedded text can be read from this handle
func (f *File) HasTextLayer() bool {
	return f.reader != nil
}

// Close releases the underlying file
func (f *File) Close() error {
	if f.fh != nil {
		err := f.fh.Close()
		f.fh = nil
		return err
	}
	return nil
}

// pdfcpuContext parses the file with pdfcpu once, on first use
func (f *File) pdfcpuContext() (*model.Context, error) {
	f.cpuOnce.Do(func() {
		f.cpuCtx, f.cpuErr = readPdfcpu(f.path)
	})
	return f.cpuCtx, f.cpuErr
}

// Opener opens PDF files from disk
type Opener struct{}

// NewOpener creates an Opener
func NewOpener() *Opener {
	return &Opener{}
}

// Open parses the file and counts its pages
func (o *Opener) Open(path string) (document.Handle, error) {
	fh, reader, err := openLedongthuc(path)
	if err == nil {
		return &File{path: path, pageCount: reader.NumPage(), fh: fh, reader: reader}, nil
	}

	ctx, cpuErr := readPdfcpu(path)
	if cpuErr != nil {
		return nil, fmt.Errorf("%v; pdfcpu: %v", err, cpuErr)
	}

	f := &File{path: path, pageCount: ctx.PageCount, cpuCtx: ctx}
	f.cpuOnce.Do(func() {})
	return f, nil
}

func openLedongthuc(path string) (fh *os.File, reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			if fh != nil {
				fh.Close()
			}
			fh, reader, err = nil, nil, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	fh, reader, err = pdf.Open(path)
	if err != nil {
		if fh != nil {
			fh.Close()
		}
		return nil, nil, err
	}
	// NumPage walks the page tree and panics on broken trees
	_ = reader.NumPage()
	return fh, reader, nil
}

func readPdfcpu(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

// TextExtractor reads the embedded text layer of a page
type TextExtractor struct{}

// NewTextExtractor creates a TextExtractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// ExtractText returns the trimmed plain text of the page at pageIndex
func (e *TextExtractor) ExtractText(ctx context.Context, h document.Handle, pageIndex int) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, ok := h.(*File)
	if !ok {
		return "", fmt.Errorf("unsupported handle type %T", h)
	}
	if !f.HasTextLayer() {
		return "", fmt.Errorf("no text layer reader for %s", f.path)
	}
	if pageIndex < 0 || pageIndex >= f.pageCount {
		return "", fmt.Errorf("page index %d out of range [0, %d)", pageIndex, f.pageCount)
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("text extraction panic on page %d: %v", pageIndex+1, r)
		}
	}()

	page := f.reader.Page(pageIndex + 1)
	if page.V.IsNull() {
		return "", nil
	}

	raw, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", pageIndex+1, err)
	}
	return strings.TrimSpace(raw), nil
}
