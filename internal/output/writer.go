/**
 * Output Writer
 *
 * Materializes the mirrored results tree. For a document at <rel dir>/<stem>.pdf
 * under the scan root the writer produces exactly one of
 * <output root>/<rel dir>/<stem>_ocr.txt or <stem>_ERROR.txt, and in
 * structure mode a folder <structure root>/<rel dir>/<stem>/ with per-page
 * exports. Paths depend only on the roots and the relative path.
 */

package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/adverant/nexus/batch-ocr/internal/processor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	TextSuffix  = "_ocr.txt"
	ErrorSuffix = "_ERROR.txt"
	SummaryName = "_batch_summary.txt"
)

// Exports selects structure-mode output formats
type Exports struct {
	Text     bool
	JSON     bool
	Markdown bool
	HTML     bool
}

// Writer writes results under the output roots
type Writer struct {
	outputRoot    string
	structureRoot string
	markdown      goldmark.Markdown
	logger        *logging.Logger
}

// NewWriter creates a writer for the given roots
func NewWriter(outputRoot, structureRoot string) *Writer {
	return &Writer{
		outputRoot:    outputRoot,
		structureRoot: structureRoot,
		markdown:      goldmark.New(goldmark.WithExtensions(extension.Table)),
		logger:        logging.NewLogger("output"),
	}
}

// OutputRoot returns the text output root
func (w *Writer) OutputRoot() string {
	return w.outputRoot
}

// StructureRoot returns the structure export root
func (w *Writer) StructureRoot() string {
	return w.structureRoot
}

// TextPath returns the mirrored text output path for a relative PDF path
func (w *Writer) TextPath(relPath string) string {
	return w.mirror(w.outputRoot, relPath, TextSuffix)
}

// ErrorPath returns the mirrored error report path for a relative PDF path
func (w *Writer) ErrorPath(relPath string) string {
	return w.mirror(w.outputRoot, relPath, ErrorSuffix)
}

// StructureDir returns the structure export folder for a relative PDF path
func (w *Writer) StructureDir(relPath string) string {
	return w.mirror(w.structureRoot, relPath, "")
}

func (w *Writer) mirror(root, relPath, suffix string) string {
	doc := document.Document{RelPath: filepath.ToSlash(relPath)}
	return filepath.Join(root, filepath.FromSlash(doc.RelDir()), doc.Stem()+suffix)
}

// Probe verifies the output root can be created and written. Failure is
// fatal for the run.
func (w *Writer) Probe() error {
	if err := os.MkdirAll(w.outputRoot, 0755); err != nil {
		return errors.NewWriteError(w.outputRoot, true, err)
	}
	f, err := os.CreateTemp(w.outputRoot, ".probe-*")
	if err != nil {
		return errors.NewWriteError(w.outputRoot, true, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return errors.NewWriteError(w.outputRoot, true, err)
	}
	return nil
}

// WriteResult writes the text file on success or the error report on
// failure, removing the stale counterpart from an earlier run. With
// writeText false a successful result only clears stale error reports.
func (w *Writer) WriteResult(r *document.ProcessingResult, writeText bool) error {
	textPath := w.TextPath(r.Document.RelPath)
	errPath := w.ErrorPath(r.Document.RelPath)

	if err := os.MkdirAll(filepath.Dir(textPath), 0755); err != nil {
		return errors.NewWriteError(filepath.Dir(textPath), false, err)
	}

	if r.Err != nil {
		if err := writeFileAtomic(errPath, []byte(ErrorReport(r.Err))); err != nil {
			return errors.NewWriteError(errPath, false, err)
		}
		return removeIfExists(textPath)
	}

	if writeText {
		if err := writeFileAtomic(textPath, []byte(r.Text)); err != nil {
			return errors.NewWriteError(textPath, false, err)
		}
	}
	return removeIfExists(errPath)
}

// ErrorReport formats the contents of an _ERROR.txt file
func ErrorReport(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ERROR: %s\n\n", err.Error())
	if trace := errors.Trace(err); trace != "" {
		b.WriteString(trace)
		if !strings.HasSuffix(trace, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// WriteStructure writes structure-mode exports for one document
func (w *Writer) WriteStructure(relPath string, sd *processor.StructuredDocument, exports Exports) error {
	if !exports.JSON && !exports.Markdown && !exports.HTML {
		return nil
	}

	dir := w.StructureDir(relPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewWriteError(dir, false, err)
	}

	var full strings.Builder
	for _, page := range sd.Pages {
		base := filepath.Join(dir, fmt.Sprintf("page_%03d", page.PageNumber))

		if exports.JSON {
			data, err := json.MarshalIndent(page, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode page %d: %w", page.PageNumber, err)
			}
			if err := writeFileAtomic(base+".json", append(data, '\n')); err != nil {
				return errors.NewWriteError(base+".json", false, err)
			}
		}

		md := page.Markdown()
		full.WriteString(md)
		if exports.Markdown {
			if err := writeFileAtomic(base+".md", []byte(md)); err != nil {
				return errors.NewWriteError(base+".md", false, err)
			}
		}
	}

	if exports.HTML {
		var html bytes.Buffer
		if err := w.markdown.Convert([]byte(full.String()), &html); err != nil {
			return fmt.Errorf("failed to render HTML: %w", err)
		}
		path := filepath.Join(dir, "document.html")
		if err := writeFileAtomic(path, html.Bytes()); err != nil {
			return errors.NewWriteError(path, false, err)
		}
	}

	w.logger.Debug("structure exported", "path", relPath, "dir", dir, "pages", len(sd.Pages))
	return nil
}

// writeFileAtomic writes via a temp file and rename so a killed run never
// leaves a half-written result behind
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewWriteError(path, false, err)
	}
	return nil
}
