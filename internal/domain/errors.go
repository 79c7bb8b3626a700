package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when a row does not exist
	ErrNotFound = errors.New("not found")

	ErrUnknownMedicine         = errors.New("unknown medicine")
	ErrDuplicateActiveMedicine = errors.New("medicine already active for patient")
	ErrRegimenEntryNotFound    = errors.New("regimen entry not found")
	ErrScheduleNotFound        = errors.New("schedule not found")
	ErrScheduleInactive        = errors.New("schedule inactive")
	ErrValidation              = errors.New("validation failed")

	// ErrPersistenceUnavailable wraps driver and connection failures. Callers
	// may retry; the sweep retries on its next tick.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrPredictorUnavailable means the severity predictor could not answer.
	ErrPredictorUnavailable = errors.New("severity predictor unavailable")
)

// Error codes returned to tool and API callers
const (
	CodeUnknownMedicine         = "UNKNOWN_MEDICINE"
	CodeDuplicateActiveMedicine = "DUPLICATE_ACTIVE_MEDICINE"
	CodeRegimenEntryNotFound    = "REGIMEN_ENTRY_NOT_FOUND"
	CodeScheduleNotFound        = "SCHEDULE_NOT_FOUND"
	CodeScheduleInactive        = "SCHEDULE_INACTIVE"
	CodeValidation              = "VALIDATION_ERROR"
	CodePersistenceUnavailable  = "PERSISTENCE_UNAVAILABLE"
	CodeInternal                = "INTERNAL_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// Unavailable wraps a storage driver error as ErrPersistenceUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceUnavailable, err)
}

// ErrorCode maps an error chain to a stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownMedicine):
		return CodeUnknownMedicine
	case errors.Is(err, ErrDuplicateActiveMedicine):
		return CodeDuplicateActiveMedicine
	case errors.Is(err, ErrRegimenEntryNotFound):
		return CodeRegimenEntryNotFound
	case errors.Is(err, ErrScheduleNotFound):
		return CodeScheduleNotFound
	case errors.Is(err, ErrScheduleInactive):
		return CodeScheduleInactive
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrPersistenceUnavailable):
		return CodePersistenceUnavailable
	}
	return CodeInternal
}

// EngineError is the serialisable form of an engine failure.
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEngineError builds an EngineError from err with its mapped code.
func NewEngineError(err error, requestID string) *EngineError {
	return &EngineError{
		Code:      ErrorCode(err),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
