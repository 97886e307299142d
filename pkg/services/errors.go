// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sovereignrag/process/pkg/engine"
	"github.com/sovereignrag/process/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrMissingLimit   = errors.New("limit must be positive")

	// Lookup Errors (404 Not Found).
	ErrProcessNotFound = persistence.ErrProcessNotFound
	ErrRequestNotFound = persistence.ErrRequestNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrDuplicatePendingProcess = persistence.ErrDuplicatePendingProcess
	ErrProcessAlreadyExists    = persistence.ErrProcessAlreadyExists
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrMissingLimit) ||
		engine.IsIllegalTransition(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrProcessNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicatePendingProcess) ||
		errors.Is(err, ErrProcessAlreadyExists)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func invalidPayload(op string, err error) *ServiceError {
	message := err.Error()

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		message = fmt.Sprintf("field %s failed on %s", first.Namespace(), first.Tag())
	}

	return NewValidationError(op, "INVALID_PAYLOAD", message, errors.Join(ErrInvalidRequest, err))
}
