package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/hibiken/asynq"
)

// NewBatchTask encodes a payload as a batch:run task
func NewBatchTask(p BatchPayload) (*asynq.Task, error) {
	if p.Root == "" {
		return nil, fmt.Errorf("root is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch payload: %w", err)
	}
	return asynq.NewTask(TaskTypeBatchRun, data), nil
}

// Producer submits batch runs
type Producer struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

// NewProducer creates a producer for the given queue
func NewProducer(redisURL, queue string, timeout time.Duration) (*Producer, error) {
	if queue == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if timeout <= 0 {
		timeout = unboundedTimeout
	}
	return &Producer{
		client:  asynq.NewClient(redisOpt),
		queue:   queue,
		timeout: timeout,
	}, nil
}

// TaskOptions returns the enqueue options every batch task uses
func (p *Producer) TaskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(p.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(p.timeout),
		asynq.Retention(24 * time.Hour),
	}
}

// Enqueue submits one run
func (p *Producer) Enqueue(ctx context.Context, payload BatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewBatchTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := p.client.EnqueueContext(ctx, task, p.TaskOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue batch run: %w", err)
	}
	return info, nil
}

// Close releases the Redis connection
func (p *Producer) Close() error {
	return p.client.Close()
}

// AsynqLogger adapts the pipeline logger to asynq.Logger
type AsynqLogger struct {
	logger *logging.Logger
}

func NewAsynqLogger(logger *logging.Logger) *AsynqLogger {
	return &AsynqLogger{logger: logger}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *AsynqLogger) Fatal(args ...interface{}) {
	zl := l.logger.Zerolog()
	zl.Fatal().Msg(fmt.Sprint(args...))
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	case "fatal", "panic":
		return asynq.FatalLevel
	default:
		return asynq.InfoLevel
	}
}
