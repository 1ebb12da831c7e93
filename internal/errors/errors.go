// Package errors provides coded application errors for the PlanMesh device core.
package errors

import "fmt"

// ErrorCode is a stable machine-readable error identifier. Codes cross the
// local API boundary to UI clients, so existing values must not be renamed.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Store errors
	ErrStore     ErrorCode = "STORE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"
	ErrCorrupt   ErrorCode = "STORE_CORRUPT"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"

	// Transport errors
	ErrTransport        ErrorCode = "TRANSPORT_ERROR"
	ErrTransportTimeout ErrorCode = "TRANSPORT_TIMEOUT"
	ErrRemoteRejected   ErrorCode = "REMOTE_REJECTED"

	// Device identity errors
	ErrDeviceIdentity ErrorCode = "DEVICE_IDENTITY_ERROR"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
