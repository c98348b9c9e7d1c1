package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

/**
 * Error types for the batch OCR pipeline
 *
 * Every failure the pipeline can observe is reported as a ProcessingError
 * carrying a code. The code decides whether the failure is isolated to a
 * document (or page) or terminates the whole run.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Run-level errors
	ErrorDiscoveryFailed  ErrorCode = "DISCOVERY_FAILED"
	ErrorEngineInitFailed ErrorCode = "ENGINE_INIT_FAILED"
	ErrorConfigInvalid    ErrorCode = "CONFIG_INVALID"

	// Document-level errors
	ErrorDocumentOpenFailed ErrorCode = "DOCUMENT_OPEN_FAILED"
	ErrorWriteFailed        ErrorCode = "WRITE_FAILED"
	ErrorOutputConflict     ErrorCode = "OUTPUT_CONFLICT"

	// Page-level errors
	ErrorPageRenderFailed ErrorCode = "PAGE_RENDER_FAILED"
	ErrorOCRFailed        ErrorCode = "OCR_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	Path      string
	Page      int // zero-based, -1 when not page specific
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error

	// fatal marks errors that make the remaining batch meaningless
	fatal bool
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, eris.Cause(e.Cause))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error should terminate the run
func (e *ProcessingError) Fatal() bool {
	return e.fatal
}

func newError(code ErrorCode, msg string, path string, page int, cause error) *ProcessingError {
	if cause != nil {
		cause = eris.Wrap(cause, string(code))
	}
	return &ProcessingError{
		Code:      code,
		Message:   msg,
		Path:      path,
		Page:      page,
		Timestamp: time.Now(),
		Details:   map[string]interface{}{},
		Cause:     cause,
	}
}

// Factory functions for common errors

func NewDiscoveryError(root string, cause error) *ProcessingError {
	e := newError(ErrorDiscoveryFailed, fmt.Sprintf("cannot scan root folder %s", root), root, -1, cause)
	e.fatal = true
	return e
}

func NewNoDocumentsError(root string) *ProcessingError {
	e := newError(ErrorDiscoveryFailed, fmt.Sprintf("no PDF files found under %s", root), root, -1, nil)
	e.fatal = true
	return e
}

func NewEngineInitError(device string, remediation string, cause error) *ProcessingError {
	msg := fmt.Sprintf("OCR engine failed to initialize on %s", device)
	if remediation != "" {
		msg += "; " + remediation
	}
	e := newError(ErrorEngineInitFailed, msg, "", -1, cause)
	e.Details["device"] = device
	e.fatal = true
	return e
}

func NewConfigError(field string, cause error) *ProcessingError {
	e := newError(ErrorConfigInvalid, fmt.Sprintf("invalid configuration: %s", field), "", -1, cause)
	e.Details["field"] = field
	e.fatal = true
	return e
}

func NewDocumentOpenError(path string, cause error) *ProcessingError {
	return newError(ErrorDocumentOpenFailed, "cannot open document as PDF", path, -1, cause)
}

// NewOutputConflictError marks a document whose output files would overwrite
// those of an earlier document in the same run
func NewOutputConflictError(path, earlier string) *ProcessingError {
	e := newError(ErrorOutputConflict, fmt.Sprintf("output files would overwrite those of %s", earlier), path, -1, nil)
	e.Details["conflicts_with"] = earlier
	return e
}

// NewWriteError builds a write failure. A failure on the output root itself
// is fatal because every later write would fail the same way.
func NewWriteError(path string, outputRoot bool, cause error) *ProcessingError {
	msg := "cannot write output file"
	if outputRoot {
		msg = "output root is not writable"
	}
	e := newError(ErrorWriteFailed, msg, path, -1, cause)
	e.fatal = outputRoot
	return e
}

func NewPageRenderError(path string, page int, cause error) *ProcessingError {
	e := newError(ErrorPageRenderFailed, fmt.Sprintf("cannot render page %d", page+1), path, page, cause)
	e.Details["page"] = page + 1
	return e
}

func NewOCRFailedError(path string, page int, cause error) *ProcessingError {
	e := newError(ErrorOCRFailed, fmt.Sprintf("OCR failed on page %d", page+1), path, page, cause)
	e.Details["page"] = page + 1
	return e
}

// IsFatal reports whether err (or anything it wraps) terminates the run
func IsFatal(err error) bool {
	var pe *ProcessingError
	if As(err, &pe) {
		return pe.Fatal()
	}
	return false
}

// CodeOf returns the code of the first ProcessingError in the chain, or ""
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if As(err, &pe) {
		return pe.Code
	}
	return ""
}

// As is the standard errors.As, re-exported so callers do not import two errors packages
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Trace renders err with its stack trace for diagnostic files
func Trace(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProcessingError
	if As(err, &pe) && pe.Cause != nil {
		return eris.ToString(pe.Cause, true)
	}
	return eris.ToString(err, true)
}

// ToMap converts error to map for progress events
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.Path != "" {
		result["path"] = e.Path
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = eris.Cause(e.Cause).Error()
	}

	return result
}
