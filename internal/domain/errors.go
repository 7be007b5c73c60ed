package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a conversion failure.
type ErrorKind string

const (
	KindInputNotFound          ErrorKind = "input_not_found"
	KindMissingCredential      ErrorKind = "missing_credential"
	KindInvalidConfig          ErrorKind = "invalid_config"
	KindTransport              ErrorKind = "transport"
	KindMalformedResponse      ErrorKind = "malformed_response"
	KindSubmissionRejected     ErrorKind = "submission_rejected"
	KindSubmissionEmpty        ErrorKind = "submission_empty"
	KindUploadRejected         ErrorKind = "upload_rejected"
	KindRemoteProcessingFailed ErrorKind = "remote_processing_failed"
	KindPollTimeout            ErrorKind = "poll_timeout"
	KindDownloadFailed         ErrorKind = "download_failed"
	KindNoResultURL            ErrorKind = "no_result_url"
	KindExtractionFailed       ErrorKind = "extraction_failed"
	KindSummaryWriteWarning    ErrorKind = "summary_write_warning"
	KindCancelled              ErrorKind = "cancelled"
)

// Error is a conversion error carrying the stage it happened in.
type Error struct {
	Kind       ErrorKind
	Stage      Stage
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("[%s] %s", e.Stage, msg)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new conversion error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WithStage returns a copy of the error tagged with stage.
// An already tagged error keeps its original stage.
func (e *Error) WithStage(stage Stage) *Error {
	if e.Stage != "" {
		return e
	}
	cp := *e
	cp.Stage = stage
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal reports whether err aborts a conversion. Only summary write
// warnings are downgraded.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) != KindSummaryWriteWarning
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) Stage {
	var de *Error
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}

// Common error constructors
func InputNotFound(path string, err error) *Error {
	return NewError(KindInputNotFound, fmt.Sprintf("input file not found: %s", path), err)
}

func MissingCredential(message string) *Error {
	return NewError(KindMissingCredential, message, nil)
}

func InvalidConfig(message string, err error) *Error {
	return NewError(KindInvalidConfig, message, err)
}

func TransportError(message string, err error) *Error {
	return NewError(KindTransport, message, err)
}

func MalformedResponse(message string, err error) *Error {
	return NewError(KindMalformedResponse, message, err)
}

func SubmissionRejected(code int, message string) *Error {
	e := NewError(KindSubmissionRejected, message, nil)
	e.StatusCode = code
	return e
}

func SubmissionEmpty() *Error {
	return NewError(KindSubmissionEmpty, "service returned no upload targets", nil)
}

func UploadRejected(statusCode int, bodyExcerpt string) *Error {
	e := NewError(KindUploadRejected, bodyExcerpt, nil)
	e.StatusCode = statusCode
	return e
}

func RemoteProcessingFailed(message string) *Error {
	return NewError(KindRemoteProcessingFailed, message, nil)
}

func PollTimeout(batchID string, waited time.Duration) *Error {
	return NewError(KindPollTimeout, fmt.Sprintf("batch %s not finished after %s", batchID, waited), nil)
}

func DownloadFailed(message string, err error) *Error {
	return NewError(KindDownloadFailed, message, err)
}

func NoResultURL(batchID string) *Error {
	return NewError(KindNoResultURL, fmt.Sprintf("batch %s finished without an archive url", batchID), nil)
}

func ExtractionFailed(message string, err error) *Error {
	return NewError(KindExtractionFailed, message, err)
}

func SummaryWriteWarning(path string, err error) *Error {
	return NewError(KindSummaryWriteWarning, fmt.Sprintf("could not write summary %s", path), err)
}

func Cancelled(err error) *Error {
	return NewError(KindCancelled, "conversion abandoned", err)
}
