package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a stage error and fixes the queue policy for it.
type Kind string

// Error kinds. The queue policy per kind:
//
//	BadInput            delete message, record failure, never retry
//	TransientDependency keep message, redeliver after visibility timeout
//	PermanentDependency delete message, record operator-visible failure
//	LeaseContention     keep message, back off via visibility timeout
//	StorageWrite        keep message after in-process retries are exhausted
//	BuildFailure        delete message (builds are reproducible), surface to operators
//	Cancellation        keep message, exit the task
const (
	KindBadInput            Kind = "bad_input"
	KindTransientDependency Kind = "transient_dependency"
	KindPermanentDependency Kind = "permanent_dependency"
	KindLeaseContention     Kind = "lease_contention"
	KindStorageWrite        Kind = "storage_write"
	KindBuildFailure        Kind = "build_failure"
	KindCancellation        Kind = "cancellation"
)

// StageError is the only error shape that crosses a message-handler boundary.
// Raw dependency errors are wrapped, never leaked to operators directly.
type StageError struct {
	Kind          Kind
	Stage         string
	TopicID       string // or batch id for publisher errors
	CorrelationID string
	Err           error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s[%s] topic=%s correlation=%s: %v",
		e.Stage, e.Kind, e.TopicID, e.CorrelationID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether the message should be left on the queue for
// redelivery.
func (e *StageError) Retryable() bool {
	switch e.Kind {
	case KindTransientDependency, KindLeaseContention, KindStorageWrite, KindCancellation:
		return true
	default:
		return false
	}
}

// DeleteMessage reports whether the handler should delete the message
// despite the failure (poison-message termination).
func (e *StageError) DeleteMessage() bool {
	switch e.Kind {
	case KindBadInput, KindPermanentDependency, KindBuildFailure:
		return true
	default:
		return false
	}
}

// NewStageError wraps err with classification metadata.
func NewStageError(kind Kind, stage, topicID, correlationID string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, TopicID: topicID, CorrelationID: correlationID, Err: err}
}

// Classify maps an arbitrary error to its Kind. Context cancellation wins
// over any wrapped classification so shutdown is never misfiled as a
// dependency failure.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancellation
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransientDependency
}
