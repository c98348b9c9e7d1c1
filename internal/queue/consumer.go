/**
 * Queue Consumer for batch OCR runs
 *
 * A batch run can be triggered remotely by enqueueing a "batch:run" task.
 * Uses Asynq for queue management. The worker processes one task at a time
 * so the single OCR engine instance is never shared.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/config"
	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/hibiken/asynq"
)

// TaskTypeBatchRun is the asynq task type for a batch run
const TaskTypeBatchRun = "batch:run"

// unboundedTimeout stands in for "no timeout"; asynq applies its own
// 30 minute default when none is given
const unboundedTimeout = 30 * 24 * time.Hour

// BatchPayload describes one requested run
type BatchPayload struct {
	Root             string    `json:"root"`
	OutputRoot       string    `json:"outputRoot,omitempty"`
	StructureRoot    string    `json:"structureRoot,omitempty"`
	Mode             string    `json:"mode,omitempty"`
	ForceOCR         bool      `json:"forceOcr,omitempty"`
	MinEmbeddedChars *int      `json:"minEmbeddedChars,omitempty"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// PayloadFromConfig captures the run settings of a resolved configuration
func PayloadFromConfig(cfg *config.Config) BatchPayload {
	minChars := cfg.MinEmbeddedChars
	return BatchPayload{
		Root:             cfg.Root,
		OutputRoot:       cfg.OutputRoot,
		StructureRoot:    cfg.StructureRoot,
		Mode:             cfg.Mode,
		ForceOCR:         cfg.ForceOCR,
		MinEmbeddedChars: &minChars,
		RequestedAt:      time.Now().UTC(),
	}
}

// Apply layers the payload over the worker's base configuration. Output
// roots default per task, never from a previous task.
func (p BatchPayload) Apply(base *config.Config) (*config.Config, error) {
	cfg := *base
	cfg.Root = p.Root
	cfg.OutputRoot = p.OutputRoot
	cfg.StructureRoot = p.StructureRoot
	if p.Mode != "" {
		cfg.Mode = p.Mode
	}
	if p.ForceOCR {
		cfg.ForceOCR = true
	}
	if p.MinEmbeddedChars != nil {
		cfg.MinEmbeddedChars = *p.MinEmbeddedChars
	}

	if err := cfg.RequireRoot(); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RunFunc executes one batch run for a task's configuration
type RunFunc func(ctx context.Context, cfg *config.Config) (*document.BatchSummary, error)

// Handler turns batch:run tasks into runs. It implements asynq.Handler.
type Handler struct {
	base    *config.Config
	run     RunFunc
	timeout time.Duration
	logger  *logging.Logger
}

// NewHandler creates a task handler
func NewHandler(base *config.Config, run RunFunc) *Handler {
	return &Handler{
		base:    base,
		run:     run,
		timeout: base.ProcessingTimeout,
		logger:  logging.NewLogger("queue"),
	}
}

// taskResult is written back to asynq for inspection
type taskResult struct {
	RunID     string `json:"runId"`
	Root      string `json:"root"`
	Output    string `json:"output"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// ProcessTask handles a batch:run task. Runs are never retried: invalid
// payloads and fatal run errors skip retry.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal batch payload: %v: %w", err, asynq.SkipRetry)
	}

	cfg, err := payload.Apply(h.base)
	if err != nil {
		h.logger.Error("rejected batch task", "root", payload.Root, "error", err)
		return fmt.Errorf("invalid batch payload: %v: %w", err, asynq.SkipRetry)
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = unboundedTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.logger.Info("batch task started", "root", cfg.Root, "output", cfg.OutputRoot, "mode", cfg.Mode, "timeout", timeout)

	summary, err := h.run(runCtx, cfg)
	duration := time.Since(startTime)

	if err != nil {
		h.logger.Error("batch task failed",
			"root", cfg.Root,
			"code", string(errors.CodeOf(err)),
			"duration", duration,
			"error", err)
		return fmt.Errorf("batch run failed: %v: %w", err, asynq.SkipRetry)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		h.logger.Warn("batch task timed out", "root", cfg.Root, "timeout", timeout, "skipped", summary.Skipped)
	}

	h.logger.Info("batch task completed",
		"run_id", summary.RunID,
		"ok", summary.Succeeded,
		"error", summary.Failed,
		"skipped", summary.Skipped,
		"duration", duration)

	if rw := task.ResultWriter(); rw != nil {
		data, _ := json.Marshal(taskResult{
			RunID:     summary.RunID,
			Root:      summary.Root,
			Output:    summary.OutputRoot,
			Total:     summary.Total,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Skipped:   summary.Skipped,
			ElapsedMs: summary.Elapsed.Milliseconds(),
		})
		if _, err := rw.Write(data); err != nil {
			h.logger.Warn("failed to record task result", "error", err)
		}
	}

	return nil
}

// Consumer serves batch:run tasks from Redis
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler *Handler
	config  *ConsumerConfig
	logger  *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL  string
	QueueName string
	Handler   *Handler
	LogLevel  string
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("queue")
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// one run at a time: the OCR engine is a single instance
			Concurrency: 1,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task processing error",
					"type", task.Type(),
					"payload", string(task.Payload()),
					"error", err)
			}),
			Logger:   NewAsynqLogger(logger),
			LogLevel: asynqLogLevel(cfg.LogLevel),
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeBatchRun, cfg.Handler)

	return &Consumer{
		server:  server,
		mux:     mux,
		handler: cfg.Handler,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Start begins consuming in the background
func (c *Consumer) Start() error {
	c.logger.Info("starting queue consumer", "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop waits for the running task and shuts down
func (c *Consumer) Stop() {
	c.logger.Info("stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("queue consumer stopped")
}
