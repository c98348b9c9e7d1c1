/**
 * batchocr - Main Entry Point
 *
 * Converts every PDF under a folder into plain text, preferring the
 * embedded text layer and falling back to OCR page by page.
 *
 * Commands:
 * - run      convert a folder (default)
 * - list     print the documents a run would convert and where results go
 * - worker   consume batch:run tasks from Redis
 * - enqueue  submit a batch:run task
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adverant/nexus/batch-ocr/internal/batch"
	"github.com/adverant/nexus/batch-ocr/internal/config"
	"github.com/adverant/nexus/batch-ocr/internal/document"
	pipelineerrors "github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/adverant/nexus/batch-ocr/internal/output"
	"github.com/adverant/nexus/batch-ocr/internal/pdf"
	"github.com/adverant/nexus/batch-ocr/internal/processor"
	"github.com/adverant/nexus/batch-ocr/internal/progress"
	"github.com/adverant/nexus/batch-ocr/internal/queue"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const usage = `usage: batchocr [run|list|worker|enqueue] [flags]

  run       convert every PDF under --root (default command)
  list      show discovered PDFs and their output paths
  worker    consume batch:run tasks from Redis
  enqueue   submit a batch:run task for --root

Run "batchocr <command> -h" for the flags.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run", "list", "worker", "enqueue":
	case "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}

	cfg, fs, err := config.Load("batchocr "+cmd, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		if pipelineerrors.CodeOf(err) != "" {
			fmt.Fprintln(stderr, err)
			return exitFatal
		}
		// the flag package has already printed the problem
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n\n%s", strings.Join(fs.Args(), " "), usage)
		return exitUsage
	}
	if cmd != "worker" && cfg.Root == "" {
		fmt.Fprintf(stderr, "--root is required\n\n%s", usage)
		return exitUsage
	}

	if err := logging.Setup(&logging.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: stderr}); err != nil {
		fmt.Fprintln(stderr, pipelineerrors.NewConfigError("logging", err))
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "list":
		return listDocuments(cfg, stdout)
	case "worker":
		return runWorker(ctx, cfg)
	case "enqueue":
		return enqueueRun(ctx, cfg, stdout)
	default:
		return runBatch(ctx, cfg, stdout)
	}
}

func runBatch(ctx context.Context, cfg *config.Config, stdout io.Writer) int {
	logger := logging.NewLogger("main")
	writer := output.NewWriter(cfg.OutputRoot, cfg.StructureRoot)

	// discover before loading the engine so a bad root fails fast
	docs, err := batch.List(cfg.Root, writer)
	if err != nil {
		logger.Error("discovery failed", "root", cfg.Root, "error", err)
		return exitFatal
	}
	logger.Info("documents discovered", "root", cfg.Root, "count", len(docs), "output", cfg.OutputRoot)

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitFatal
	}
	defer p.Close()

	orch, err := p.orchestrator(writer)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitFatal
	}

	summary, err := orch.RunDocuments(ctx, cfg.Root, docs, batch.OptionsFromConfig(cfg))
	if err != nil {
		logger.Error("batch aborted", "error", err)
		return exitFatal
	}

	fmt.Fprintln(stdout, output.FormatTotals(summary))
	if ctx.Err() != nil {
		return exitInterrupted
	}
	return exitOK
}

func listDocuments(cfg *config.Config, stdout io.Writer) int {
	writer := output.NewWriter(cfg.OutputRoot, cfg.StructureRoot)
	docs, err := batch.List(cfg.Root, writer)
	if err != nil {
		logging.NewLogger("main").Error("discovery failed", "root", cfg.Root, "error", err)
		return exitFatal
	}
	conflicts := batch.OutputConflicts(docs, writer)
	for _, doc := range docs {
		if earlier, ok := conflicts[doc.RelPath]; ok {
			fmt.Fprintf(stdout, "%s\t(output conflicts with %s)\n", doc.RelPath, earlier)
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\n", doc.RelPath, writer.TextPath(doc.RelPath))
	}
	return exitOK
}

func runWorker(ctx context.Context, cfg *config.Config) int {
	logger := logging.NewLogger("main")

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitFatal
	}
	defer p.Close()

	handler := queue.NewHandler(cfg, func(ctx context.Context, taskCfg *config.Config) (*document.BatchSummary, error) {
		orch, err := p.orchestrator(output.NewWriter(taskCfg.OutputRoot, taskCfg.StructureRoot))
		if err != nil {
			return nil, err
		}
		return orch.Run(ctx, taskCfg.Root, batch.OptionsFromConfig(taskCfg))
	})

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:  cfg.RedisURL,
		QueueName: cfg.QueueName,
		Handler:   handler,
		LogLevel:  cfg.LogLevel,
	})
	if err != nil {
		logger.Error("failed to initialize queue consumer", "error", err)
		return exitFatal
	}
	if err := consumer.Start(); err != nil {
		logger.Error("failed to start queue consumer", "error", err)
		return exitFatal
	}

	logger.Info("worker ready", "queue", cfg.QueueName, "task", queue.TaskTypeBatchRun)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	consumer.Stop()
	return exitOK
}

func enqueueRun(ctx context.Context, cfg *config.Config, stdout io.Writer) int {
	logger := logging.NewLogger("main")

	producer, err := queue.NewProducer(cfg.RedisURL, cfg.QueueName, cfg.ProcessingTimeout)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		return exitFatal
	}
	defer producer.Close()

	info, err := producer.Enqueue(ctx, queue.PayloadFromConfig(cfg))
	if err != nil {
		logger.Error("enqueue failed", "error", err)
		return exitFatal
	}
	fmt.Fprintf(stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	return exitOK
}

// pipeline holds the long-lived pieces shared by every run of a process:
// the OCR engine, the document processor and the progress reporters
type pipeline struct {
	engine    *processor.Engine
	processor *processor.DocumentProcessor
	reporter  progress.Reporter
	publisher *progress.RedisPublisher
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	logger := logging.NewLogger("main")

	device, warning, err := processor.ResolveDevice(cfg.Device, cfg.ExplicitDevice(), processor.DetectNvidiaGPU)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		logger.Warn(warning)
	}

	engine := processor.NewEngine(processor.NewTesseractFactory(&processor.TesseractConfig{
		Languages:   cfg.TesseractLanguages(),
		Orientation: cfg.Orientation,
		DPI:         pdf.DPIForScale(cfg.RenderScale),
	}))
	if err := engine.Init(ctx, device); err != nil {
		return nil, err
	}
	logger.Info("OCR engine ready", "device", device, "languages", cfg.TesseractLanguages())

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Opener:     pdf.NewOpener(),
		Extractor:  pdf.NewTextExtractor(),
		Renderer:   pdf.NewDefaultRenderer(cfg.PdftoppmPath, logging.NewLogger("render")),
		Recognizer: engine,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}

	p := &pipeline{engine: engine, processor: proc}
	reporters := progress.Multi{progress.NewLogReporter(logging.NewLogger("batch"))}
	if cfg.PublishEvents {
		pub, err := progress.NewRedisPublisher(ctx, cfg.RedisURL, cfg.QueueName)
		if err != nil {
			logger.Warn("progress events disabled", "error", err)
		} else {
			p.publisher = pub
			reporters = append(reporters, pub)
			logger.Info("publishing progress events", "channel", pub.Channel())
		}
	}
	p.reporter = reporters
	return p, nil
}

func (p *pipeline) orchestrator(writer *output.Writer) (*batch.Orchestrator, error) {
	return batch.NewOrchestrator(&batch.OrchestratorConfig{
		Processor: p.processor,
		Structure: processor.NewLayoutAnalyzer(),
		Writer:    writer,
		Reporter:  p.reporter,
	})
}

func (p *pipeline) Close() {
	if p.publisher != nil {
		p.publisher.Close()
	}
	p.engine.Close()
}
