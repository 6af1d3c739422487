package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a write lost a compare-and-swap race.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"

	// ErrCodeAuthorizationDenied indicates the IdP declined the
	// authorization request and reported an error on the callback.
	ErrCodeAuthorizationDenied ErrorCode = "authorization_denied"
	// ErrCodeInvalidState indicates a PKCE state that is unknown, expired,
	// or already consumed.
	ErrCodeInvalidState ErrorCode = "invalid_state"
	// ErrCodeTokenExchange indicates the IdP token endpoint rejected or
	// failed the authorization-code exchange.
	ErrCodeTokenExchange ErrorCode = "token_exchange_failed"
	// ErrCodeRefreshFailed indicates the IdP rejected the refresh token.
	ErrCodeRefreshFailed ErrorCode = "refresh_failed"
	// ErrCodeRotationConflict indicates a rotation raced a deletion.
	ErrCodeRotationConflict ErrorCode = "rotation_conflict"
)

// AppError represents a structured application error with a code, message,
// and optional cause. It supports error wrapping and unwrapping for use with
// errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, message)
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsAuthorizationDenied checks if an error is an AuthorizationDenied error.
func IsAuthorizationDenied(err error) bool {
	return isCode(err, ErrCodeAuthorizationDenied)
}

// IsInvalidState checks if an error is an InvalidState error.
func IsInvalidState(err error) bool {
	return isCode(err, ErrCodeInvalidState)
}

// IsTokenExchange checks if an error is a TokenExchange error.
func IsTokenExchange(err error) bool {
	return isCode(err, ErrCodeTokenExchange)
}

// IsRefreshFailed checks if an error is a RefreshFailed error.
func IsRefreshFailed(err error) bool {
	return isCode(err, ErrCodeRefreshFailed)
}

// IsRotationConflict checks if an error is a RotationConflict error.
func IsRotationConflict(err error) bool {
	return isCode(err, ErrCodeRotationConflict)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
