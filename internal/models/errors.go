package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across all pipeline components.
// Kinds map one-to-one onto the machine tags written to result/error.json.
type ErrorKind string

const (
	ErrKindStorageTransient   ErrorKind = "storage-transient"
	ErrKindStoragePermanent   ErrorKind = "storage-permanent"
	ErrKindGatewayTransient   ErrorKind = "gateway-transient"
	ErrKindGatewayPermanent   ErrorKind = "gateway-permanent"
	ErrKindSchemaViolation    ErrorKind = "schema-violation"
	ErrKindMalformedJSON      ErrorKind = "malformed-beyond-repair"
	ErrKindPDFUnreadable      ErrorKind = "pdf-unreadable"
	ErrKindMissingField       ErrorKind = "missing-required-field"
	ErrKindTransformFailed    ErrorKind = "transform-failed"
	ErrKindCancelled          ErrorKind = "cancelled"
	ErrKindDeadlineExceeded   ErrorKind = "deadline-exceeded"
	ErrKindSubmissionRejected ErrorKind = "submission-rejected"
	ErrKindNotFound           ErrorKind = "not-found"
)

// PipelineError carries an error kind, the stage that raised it and the
// wrapped cause. It is the only error type that crosses component boundaries.
type PipelineError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the enclosing stage may retry after this error
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case ErrKindStorageTransient, ErrKindGatewayTransient, ErrKindDeadlineExceeded, ErrKindSchemaViolation:
		return true
	default:
		return false
	}
}

// NewPipelineError constructs a PipelineError for the given kind and stage
func NewPipelineError(kind ErrorKind, stage, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Cause: cause}
}

// KindOf extracts the error kind from err, walking the wrap chain.
// Unclassified errors report storage-permanent semantics: surfaced, not retried.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindStoragePermanent
}

// IsRetryable reports whether err carries a retryable kind
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// ErrNotFound is the sentinel for missing blobs, matched via errors.Is
var ErrNotFound = errors.New("not found")
