/**
 * Batch Orchestrator
 *
 * Discovers PDFs under a root, converts them one at a time, writes each
 * result into the mirrored output tree and finishes with a summary file.
 * Documents are isolated from each other: only discovery, an unwritable
 * output root and interruption stop the run early.
 */

package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/config"
	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/adverant/nexus/batch-ocr/internal/output"
	"github.com/adverant/nexus/batch-ocr/internal/processor"
	"github.com/adverant/nexus/batch-ocr/internal/progress"
	"github.com/adverant/nexus/batch-ocr/internal/quality"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Options are the per-run settings
type Options struct {
	Route processor.RouteOptions
	// Structure enables layout parsing and structure exports
	Structure bool
	Exports   output.Exports
}

// OptionsFromConfig derives run options from a resolved configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Route: processor.RouteOptions{
			ForceOCR:         cfg.ForceOCR,
			MinEmbeddedChars: cfg.MinEmbeddedChars,
			RenderScale:      cfg.RenderScale,
			FilterOCRLines:   cfg.FilterOCRLines,
			Policy: quality.Policy{
				Version:   cfg.Policy,
				MinLength: cfg.MinLength,
				MinRatio:  cfg.MinRatio,
			},
		},
		Structure: cfg.Mode == config.ModeStructure,
		Exports: output.Exports{
			Text:     cfg.ExportTxt,
			JSON:     cfg.ExportJSON,
			Markdown: cfg.ExportMD,
			HTML:     cfg.ExportHTML,
		},
	}
}

// writeText reports whether _ocr.txt files are produced. Classic mode
// always writes them.
func (o Options) writeText() bool {
	return !o.Structure || o.Exports.Text
}

// Runner is what the CLI and the queue worker drive
type Runner interface {
	Run(ctx context.Context, root string, opts Options) (*document.BatchSummary, error)
}

// Orchestrator runs batches sequentially
type Orchestrator struct {
	processor processor.DocumentProcessorInterface
	structure processor.StructureParser
	writer    *output.Writer
	reporter  progress.Reporter
	logger    *logging.Logger
}

// OrchestratorConfig holds orchestrator dependencies
type OrchestratorConfig struct {
	Processor processor.DocumentProcessorInterface
	// Structure is required only for structure-mode runs
	Structure processor.StructureParser
	Writer    *output.Writer
	Reporter  progress.Reporter
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(cfg *OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("Writer is required")
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.Nop{}
	}
	structure := cfg.Structure
	if structure == nil {
		structure = processor.NewLayoutAnalyzer()
	}

	return &Orchestrator{
		processor: cfg.Processor,
		structure: structure,
		writer:    cfg.Writer,
		reporter:  reporter,
		logger:    logging.NewLogger("batch"),
	}, nil
}

// Run converts every PDF under root. The returned error is non-nil only for
// fatal conditions; per-document failures are recorded in the summary.
func (o *Orchestrator) Run(ctx context.Context, root string, opts Options) (*document.BatchSummary, error) {
	docs, err := List(root, o.writer)
	if err != nil {
		return nil, err
	}
	return o.RunDocuments(ctx, root, docs, opts)
}

// RunDocuments converts an already discovered document list
func (o *Orchestrator) RunDocuments(ctx context.Context, root string, docs []document.Document, opts Options) (*document.BatchSummary, error) {
	startTime := time.Now()

	if err := o.writer.Probe(); err != nil {
		return nil, err
	}

	summary := &document.BatchSummary{
		RunID:      uuid.New().String(),
		Root:       root,
		OutputRoot: o.writer.OutputRoot(),
		Policy:     opts.Route.Policy.Version,
		StartedAt:  startTime,
	}
	total := len(docs)
	conflicts := OutputConflicts(docs, o.writer)
	o.reporter.Report(ctx, progress.RunStarted(summary.RunID, total))

	for i, doc := range docs {
		if ctx.Err() != nil {
			o.logger.Warn("run interrupted", "processed", i, "remaining", total-i)
			for _, rest := range docs[i:] {
				line := summary.AddSkipped(rest, "interrupted before processing")
				o.reporter.Report(ctx, progress.DocumentFinished(summary.RunID, summary.Total, total, line))
			}
			break
		}

		o.reporter.Report(ctx, progress.DocumentStarted(summary.RunID, i+1, total, doc))

		// nothing is written for a conflicting document, not even an error
		// report, since its paths belong to the earlier one
		if earlier, ok := conflicts[doc.RelPath]; ok {
			o.logger.Warn("output path already claimed", "path", doc.RelPath, "earlier", earlier)
			line := summary.Add(&document.ProcessingResult{
				Document: doc,
				Err:      errors.NewOutputConflictError(doc.RelPath, earlier),
			})
			o.reporter.Report(ctx, progress.DocumentFinished(summary.RunID, i+1, total, line))
			continue
		}

		result, err := o.processOne(ctx, doc, opts)
		if err != nil {
			summary.Elapsed = time.Since(startTime)
			return summary, err
		}

		line := summary.Add(result)
		o.reporter.Report(ctx, progress.DocumentFinished(summary.RunID, i+1, total, line))
	}

	summary.Elapsed = time.Since(startTime)

	path, err := o.writer.WriteSummary(summary)
	if err != nil {
		o.logger.Error("failed to write batch summary", "error", err)
		return summary, err
	}
	o.logger.Info("summary written", "path", path)

	o.reporter.Report(ctx, progress.RunFinished(summary))
	return summary, nil
}

// processOne converts and writes one document. Only fatal write errors are
// returned; everything else lands on the result.
func (o *Orchestrator) processOne(ctx context.Context, doc document.Document, opts Options) (result *document.ProcessingResult, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("recovered panic", "path", doc.RelPath, "panic", fmt.Sprint(r))
			if result == nil {
				result = &document.ProcessingResult{Document: doc}
			}
			result.Err = eris.Errorf("panic while processing %s: %v", doc.RelPath, r)
			result.Text = ""
			if err := o.writer.WriteResult(result, opts.writeText()); err != nil && errors.IsFatal(err) {
				fatal = err
			}
		}
	}()

	result = o.processor.ProcessDocument(ctx, doc, opts.Route)

	if opts.Structure && result.Err == nil {
		if note := o.exportStructure(ctx, result, opts); note != "" {
			result.Notes = append(result.Notes, note)
		}
	}

	if err := o.writer.WriteResult(result, opts.writeText()); err != nil {
		if errors.IsFatal(err) {
			return result, err
		}
		o.logger.Error("failed to write result", "path", doc.RelPath, "error", err)
		result.Err = err
		result.Text = ""
		// best effort: leave an error report in place of the text file
		if werr := o.writer.WriteResult(result, opts.writeText()); werr != nil {
			o.logger.Error("failed to write error report", "path", doc.RelPath, "error", werr)
		}
	}

	return result, nil
}

func (o *Orchestrator) exportStructure(ctx context.Context, result *document.ProcessingResult, opts Options) string {
	sd, err := o.structure.Parse(ctx, result.Document, result.Pages)
	if err != nil {
		o.logger.Warn("structure parsing failed", "path", result.Document.RelPath, "error", err)
		return fmt.Sprintf("structure parsing failed: %v", err)
	}
	if err := o.writer.WriteStructure(result.Document.RelPath, sd, opts.Exports); err != nil {
		o.logger.Warn("structure export failed", "path", result.Document.RelPath, "error", err)
		return fmt.Sprintf("structure export failed: %v", err)
	}
	return ""
}

// List returns the discovered documents for root without processing them
func List(root string, writer *output.Writer) ([]document.Document, error) {
	return Discover(root, writer.OutputRoot(), writer.StructureRoot())
}
