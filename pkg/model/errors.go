package model

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned when a document is not present in the local cache
	ErrNotFound = errors.New("document was not found in the cache")
	// ErrExpired is returned when a cached document outlived its time-to-live and was invalidated
	ErrExpired = errors.New("document was found in the cache, but it was expired")
	// ErrMarkedDeleted is returned when reading a document that has a pending delete
	ErrMarkedDeleted = errors.New("document is found in local storage but marked as deleted")
	// ErrInvalidPartition is returned for partition names other than readonly and user
	ErrInvalidPartition = errors.New("invalid partition name")
	// ErrInvalidDocumentID is returned for empty ids or ids containing '/', '\', '#', '?' or whitespace
	ErrInvalidDocumentID = errors.New("invalid document ID")
	// ErrNotLoggedIn is returned when a user partition is used without a signed-in account
	ErrNotLoggedIn = errors.New("the user is not logged in")
	// ErrOfflineNextPage is returned when a continuation is requested without network
	ErrOfflineNextPage = errors.New("listing next page is not supported in offline mode")
	// ErrDisabled is returned when the engine is disabled or disabled while an operation was running
	ErrDisabled = errors.New("data service is disabled")
	// ErrCacheRead wraps storage failures while reading local documents
	ErrCacheRead = errors.New("failed to read from cache")
	// ErrCacheWrite wraps storage failures while writing local documents
	ErrCacheWrite = errors.New("failed to write to cache")
	// ErrInvalidToken is returned when an exchanged token misses required fields or did not succeed
	ErrInvalidToken = errors.New("invalid token result")
	// ErrTokenCount is returned when the exchange response does not hold exactly one token
	ErrTokenCount = errors.New("token exchange response must contain exactly one token")
	// ErrCanceled is returned when the caller canceled the operation
	ErrCanceled = errors.New("operation canceled")
)

// DataError is the error value surfaced by every public data operation.
// Message is user facing, Cause keeps the underlying failure for errors.Is/As.
type DataError struct {
	Message string
	Cause   error
}

// NewDataError builds a DataError with the given message and cause.
func NewDataError(message string, cause error) *DataError {
	return &DataError{Message: message, Cause: cause}
}

func (e *DataError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *DataError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status carried anywhere in the error chain, or 0.
func StatusCode(err error) int {
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}

// IsTerminal reports whether a remote status means retrying the same request
// cannot succeed. Authentication and throttling statuses are not terminal.
func IsTerminal(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// IsRecoverable reports whether a failed remote call may succeed on a later attempt.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if status := StatusCode(err); status != 0 {
		return !IsTerminal(status)
	}
	return true
}

// WrapError converts context cancellation into ErrCanceled and leaves other errors untouched.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCanceled)
}
