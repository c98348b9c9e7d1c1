package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/adverant/nexus/batch-ocr/internal/output"
)

// Discover walks root recursively and returns every file with a .pdf
// extension (any case), sorted by absolute path. Directories listed in
// exclude (typically the output roots) are not descended into.
func Discover(root string, exclude ...string) ([]document.Document, error) {
	logger := logging.NewLogger("discovery")

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewDiscoveryError(root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errors.NewDiscoveryError(absRoot, err)
	}
	if !info.IsDir() {
		return nil, errors.NewDiscoveryError(absRoot, fmt.Errorf("not a directory"))
	}

	skip := make(map[string]bool, len(exclude))
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			skip[filepath.Clean(abs)] = true
		}
	}

	var docs []document.Document
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if path != absRoot && skip[filepath.Clean(path)] {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.EqualFold(filepath.Ext(d.Name()), ".pdf") || !isRegularFile(path, d) {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		docs = append(docs, document.Document{
			AbsPath: path,
			RelPath: filepath.ToSlash(rel),
		})
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewDiscoveryError(absRoot, walkErr)
	}

	if len(docs) == 0 {
		return nil, errors.NewNoDocumentsError(absRoot)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].AbsPath < docs[j].AbsPath
	})

	logger.Debug("discovery complete", "root", absRoot, "documents", len(docs))
	return docs, nil
}

// isRegularFile accepts regular files and symlinks that resolve to one
func isRegularFile(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// OutputConflicts finds documents whose mirrored output path is already
// claimed by an earlier document, such as a/doc.pdf and a/doc.PDF. The map
// goes from the later document's RelPath to the earlier one's; documents
// keep their discovery order, so the earlier one wins.
func OutputConflicts(docs []document.Document, writer *output.Writer) map[string]string {
	claimed := make(map[string]string, len(docs))
	conflicts := make(map[string]string)
	for _, doc := range docs {
		target := writer.TextPath(doc.RelPath)
		if earlier, ok := claimed[target]; ok {
			conflicts[doc.RelPath] = earlier
			continue
		}
		claimed[target] = doc.RelPath
	}
	return conflicts
}
