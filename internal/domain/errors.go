package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrInvalidInput indicates that the request data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the caller exceeded a rate limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrSourceUnavailable indicates that an external paper source failed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInternalError indicates an unexpected fault in merge/sort/assembly.
	ErrInternalError = errors.New("internal error")

	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RateLimitError carries the retry hint for an over-limit rejection.
type RateLimitError struct {
	Category   string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: retry after %s", e.Category, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an upstream source API failure.
// It is captured per source and never propagated to the caller as a hard
// failure; only the source status map surfaces it.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrSourceUnavailable
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(category string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Category: category, RetryAfter: retryAfter}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}
