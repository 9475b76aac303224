// Package errors provides error codes for the offline sync engine.
//
// Cache and queue reads degrade to empty results at their public surface;
// the codes below let callers, tests and metrics tell the failure kinds apart.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique, stable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrInvalid   ErrorCode = "INVALID_INPUT"
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrDuplicate ErrorCode = "DUPLICATE"
	ErrConfig    ErrorCode = "CONFIG_ERROR"

	// Storage errors
	ErrStorage ErrorCode = "STORAGE_ERROR"
	ErrEncode  ErrorCode = "ENCODE_ERROR"
	ErrDecode  ErrorCode = "DECODE_ERROR"
	ErrExpired ErrorCode = "EXPIRED"

	// Sync errors
	ErrOffline        ErrorCode = "OFFLINE"
	ErrHandlerFailed  ErrorCode = "HANDLER_FAILED"
	ErrActionRejected ErrorCode = "ACTION_REJECTED"
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

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
