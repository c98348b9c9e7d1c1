// Package progress reports batch progress to the log and, optionally, to
// Redis subscribers.
package progress

import (
	"context"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
)

// EventType names a progress event
type EventType string

const (
	EventRunStarted       EventType = "run:started"
	EventDocumentStarted  EventType = "document:started"
	EventDocumentFinished EventType = "document:finished"
	EventRunFinished      EventType = "run:finished"
)

// Event is one progress notification. Index is one-based. ErrorCode and
// Error describe the failure of a document finished with status "error".
type Event struct {
	Type      EventType              `json:"event"`
	RunID     string                 `json:"runId"`
	Path      string                 `json:"path,omitempty"`
	Index     int                    `json:"index,omitempty"`
	Total     int                    `json:"total"`
	Status    string                 `json:"status,omitempty"`
	Pages     int                    `json:"pages,omitempty"`
	ElapsedMs int64                  `json:"elapsedMs,omitempty"`
	Message   string                 `json:"message,omitempty"`
	ErrorCode string                 `json:"errorCode,omitempty"`
	Error     map[string]interface{} `json:"error,omitempty"`
	Succeeded int                    `json:"succeeded,omitempty"`
	Failed    int                    `json:"failed,omitempty"`
	Skipped   int                    `json:"skipped,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Reporter receives progress events. Implementations must not fail the run;
// delivery problems are logged.
type Reporter interface {
	Report(ctx context.Context, e Event)
}

// RunStarted builds the event emitted once discovery has finished
func RunStarted(runID string, total int) Event {
	return Event{Type: EventRunStarted, RunID: runID, Total: total, Timestamp: now()}
}

// DocumentStarted builds the event emitted before a document is opened
func DocumentStarted(runID string, index, total int, doc document.Document) Event {
	return Event{
		Type:      EventDocumentStarted,
		RunID:     runID,
		Path:      doc.RelPath,
		Index:     index,
		Total:     total,
		Timestamp: now(),
	}
}

// DocumentFinished builds the event for a recorded summary line
func DocumentFinished(runID string, index, total int, line document.StatusLine) Event {
	e := Event{
		Type:      EventDocumentFinished,
		RunID:     runID,
		Path:      line.RelPath,
		Index:     index,
		Total:     total,
		Status:    string(line.Status),
		Pages:     line.Pages,
		ElapsedMs: line.Elapsed.Milliseconds(),
		Message:   line.Message,
		Timestamp: now(),
	}
	if line.Err != nil {
		e.ErrorCode = string(errors.CodeOf(line.Err))
		var pe *errors.ProcessingError
		if errors.As(line.Err, &pe) {
			e.Error = pe.ToMap()
		}
	}
	return e
}

// RunFinished builds the closing event from the summary
func RunFinished(s *document.BatchSummary) Event {
	return Event{
		Type:      EventRunFinished,
		RunID:     s.RunID,
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Skipped:   s.Skipped,
		ElapsedMs: s.Elapsed.Milliseconds(),
		Timestamp: now(),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Multi fans an event out to several reporters
type Multi []Reporter

func (m Multi) Report(ctx context.Context, e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, e)
		}
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Report(context.Context, Event) {}

// LogReporter writes one log line per finished document
type LogReporter struct {
	logger *logging.Logger
}

func NewLogReporter(logger *logging.Logger) *LogReporter {
	if logger == nil {
		logger = logging.NewLogger("batch")
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, e Event) {
	switch e.Type {
	case EventRunStarted:
		r.logger.Info("batch started", "run_id", e.RunID, "documents", e.Total)
	case EventDocumentStarted:
		r.logger.Debug("processing document", "index", e.Index, "total", e.Total, "path", e.Path)
	case EventDocumentFinished:
		kv := []interface{}{
			"index", e.Index,
			"total", e.Total,
			"path", e.Path,
			"status", e.Status,
			"pages", e.Pages,
			"elapsed", time.Duration(e.ElapsedMs) * time.Millisecond,
		}
		if e.ErrorCode != "" {
			kv = append(kv, "code", e.ErrorCode)
		}
		if e.Message != "" {
			kv = append(kv, "message", e.Message)
		}
		if e.Status == string(document.StatusOK) {
			r.logger.Info("document finished", kv...)
		} else {
			r.logger.Warn("document finished", kv...)
		}
	case EventRunFinished:
		r.logger.Info("batch finished",
			"run_id", e.RunID,
			"total", e.Total,
			"ok", e.Succeeded,
			"error", e.Failed,
			"skipped", e.Skipped,
			"elapsed", time.Duration(e.ElapsedMs)*time.Millisecond)
	}
}
