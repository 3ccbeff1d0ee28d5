// Package syncerrors provides error code definitions for the sync core.
package syncerrors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for a sync failure class.
type ErrorCode string

const (
	// Remote errors
	ErrNetwork ErrorCode = "NETWORK_FAILURE"
	ErrServer  ErrorCode = "SERVER_FAILURE"

	// Cache errors
	ErrCacheNotFound  ErrorCode = "CACHE_NOT_FOUND"
	ErrCacheCorrupted ErrorCode = "CACHE_CORRUPTED"

	// Queue errors
	ErrSyncConflict ErrorCode = "SYNC_CONFLICT"
)

// AppError represents a sync core error with code and message.
// Server failures additionally carry the HTTP status code.
type AppError struct {
	Code    ErrorCode
	Message string
	Status  int
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

// Network creates a NETWORK_FAILURE error (no connection, timeout).
func Network(message string, err error) *AppError {
	return Wrap(ErrNetwork, message, err)
}

// Server creates a SERVER_FAILURE error carrying the HTTP status code.
func Server(status int, message string) *AppError {
	return &AppError{
		Code:    ErrServer,
		Message: message,
		Status:  status,
	}
}

// NotFound creates a CACHE_NOT_FOUND error for the given local id.
func NotFound(localID string) *AppError {
	return New(ErrCacheNotFound, fmt.Sprintf("no cached record for %s", localID))
}

// Corrupted creates a CACHE_CORRUPTED error for the given local id.
func Corrupted(localID string, err error) *AppError {
	return Wrap(ErrCacheCorrupted, fmt.Sprintf("corrupted record %s", localID), err)
}

// Conflict creates a SYNC_CONFLICT error for a server-rejected mutation.
func Conflict(localID string, status int, err error) *AppError {
	return &AppError{
		Code:    ErrSyncConflict,
		Message: fmt.Sprintf("server rejected mutation for %s", localID),
		Status:  status,
		Err:     err,
	}
}

// Is checks if an error carries a specific code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// StatusOf returns the HTTP status carried by a server failure, or 0.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

// Terminal reports whether err is a server failure that no amount of
// retrying will resolve (validation, auth, gone). 408 and 429 stay
// retryable, as do all 5xx.
func Terminal(err error) bool {
	if !Is(err, ErrServer) {
		return false
	}
	switch StatusOf(err) {
	case 400, 401, 403, 404, 409, 410, 422:
		return true
	}
	return false
}

// Gone reports whether err is a server failure meaning the remote entity
// no longer exists.
func Gone(err error) bool {
	if !Is(err, ErrServer) {
		return false
	}
	s := StatusOf(err)
	return s == 404 || s == 410
}
