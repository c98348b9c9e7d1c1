package document

import (
	"fmt"
	"strings"
	"time"
)

// Status of one document in a batch
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// StatusLine is the summary record for one document
type StatusLine struct {
	RelPath string
	Status  Status
	Pages   int
	Elapsed time.Duration
	Message string
	// Err is the document error behind a StatusError line
	Err error
}

// BatchSummary aggregates the results of a run. Lines are appended as
// documents finish and are not modified afterwards.
type BatchSummary struct {
	RunID      string
	Root       string
	OutputRoot string
	Policy     string
	StartedAt  time.Time

	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Lines     []StatusLine
	Elapsed   time.Duration
}

// Add records a processing result
func (s *BatchSummary) Add(r *ProcessingResult) StatusLine {
	line := StatusLine{
		RelPath: r.Document.RelPath,
		Pages:   r.Document.PageCount,
		Elapsed: r.Elapsed,
	}

	if r.Err != nil {
		line.Status = StatusError
		line.Message = oneLine(r.Err.Error())
		line.Err = r.Err
		s.Failed++
	} else {
		line.Status = StatusOK
		s.Succeeded++
		var notes []string
		if n := r.PageFailures(); n > 0 {
			notes = append(notes, fmt.Sprintf("%d page(s) failed: %s", n, oneLine(firstPageError(r).Error())))
		}
		notes = append(notes, r.Notes...)
		line.Message = strings.Join(notes, "; ")
	}

	s.Total++
	s.Lines = append(s.Lines, line)
	return line
}

// AddSkipped records a document that was never processed
func (s *BatchSummary) AddSkipped(doc Document, reason string) StatusLine {
	line := StatusLine{RelPath: doc.RelPath, Status: StatusSkipped, Message: reason}
	s.Total++
	s.Skipped++
	s.Lines = append(s.Lines, line)
	return line
}

func firstPageError(r *ProcessingResult) error {
	for _, p := range r.Pages {
		if p.Err != nil {
			return p.Err
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
