// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrProcessNotFound indicates no process matched the given identifier.
	ErrProcessNotFound = errors.New("process not found")

	// ErrRequestNotFound indicates the request does not belong to the process.
	ErrRequestNotFound = errors.New("process request not found")

	// ErrDuplicatePendingProcess indicates a pending process of the same type already holds the external reference.
	ErrDuplicatePendingProcess = errors.New("pending process already exists for external reference")

	// ErrProcessAlreadyExists indicates a process with the same public id already exists.
	ErrProcessAlreadyExists = errors.New("process already exists")
)

// ProcessError wraps process-related errors with additional context.
type ProcessError struct {
	Op        string    // Operation being performed (e.g., "ByPublicID", "ApplyTransition")
	PublicID  uuid.UUID // Process public id if applicable
	Reference string    // External reference if applicable
	Err       error     // Underlying error
}

func (e *ProcessError) Error() string {
	target := e.PublicID.String()
	if e.PublicID == uuid.Nil && e.Reference != "" {
		target = "reference " + e.Reference
	}

	return fmt.Sprintf("%s operation failed for process %s: %v", e.Op, target, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for process errors.
func (e *ProcessError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProcessError creates a new process error with context.
func NewProcessError(op string, publicID uuid.UUID, err error) *ProcessError {
	return &ProcessError{
		Op:       op,
		PublicID: publicID,
		Err:      err,
	}
}

// NewProcessReferenceError creates a new process error for lookups by external reference.
func NewProcessReferenceError(op, reference string, err error) *ProcessError {
	return &ProcessError{
		Op:        op,
		Reference: reference,
		Err:       err,
	}
}

// IsProcessNotFound checks if an error indicates a process was not found.
func IsProcessNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound)
}

// IsRequestNotFound checks if an error indicates a process request was not found.
func IsRequestNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}

// IsDuplicatePendingProcess checks if an error indicates a dedup violation on create.
func IsDuplicatePendingProcess(err error) bool {
	return errors.Is(err, ErrDuplicatePendingProcess)
}
