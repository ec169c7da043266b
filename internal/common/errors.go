// Package common defines the error taxonomy shared by the metadata
// repositories, the blob stores and the tree services. Callers should
// match these values with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("write conflict")

	// Storage errors. Transient failures may succeed when retried,
	// fatal ones will not.
	ErrTransient  = errors.New("transient store error")
	ErrFatalStore = errors.New("fatal store error")

	// Input and structural errors.
	ErrValidation = errors.New("validation error")
	ErrCycle      = errors.New("cycle detected")

	// Local file access.
	ErrIO = errors.New("io error")

	// Task log errors.
	ErrTaskFinished = errors.New("task already finished")
)

// ValidationError describes bad user input on a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CycleError is returned when a move or copy would place a node under
// itself or one of its own descendants.
type CycleError struct {
	SourceID int64
	TargetID int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cannot place node %d under %d: target is the node itself or one of its descendants", e.SourceID, e.TargetID)
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// IsRetryable reports whether err describes a condition that may clear up
// on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatalStore) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
