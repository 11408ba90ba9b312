// Package errors defines the structured error taxonomy shared by the enrichment
// pipeline, the mapper adapters and the HTTP API.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConfig represents configuration errors, e.g. a missing shared secret
	ErrTypeConfig ErrorType = "config"
	// ErrTypeValidation represents missing or malformed input
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConnection represents transport failures (refused, DNS, reset, open breaker)
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeUnexpectedStatus represents a non-2xx backend response
	ErrTypeUnexpectedStatus ErrorType = "unexpected_status"
	// ErrTypeMalformedResponse represents a backend body that is not valid JSON
	ErrTypeMalformedResponse ErrorType = "malformed_response"
	// ErrTypePathNotFound represents a JSONPath expression that matched nothing
	ErrTypePathNotFound ErrorType = "path_not_found"
	// ErrTypeAuth represents authentication errors on the enrichment API
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound represents unknown resources such as a mapper name
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents an outbound call that exceeded its deadline
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// UnexpectedStatusError creates an error for a backend response outside [200,300)
func UnexpectedStatusError(statusCode int) *AppError {
	return &AppError{
		Type:       ErrTypeUnexpectedStatus,
		Message:    fmt.Sprintf("unexpected response status: %d", statusCode),
		StatusCode: statusCode,
	}
}

// MalformedResponseError creates an error for a body that could not be parsed
func MalformedResponseError(cause error) *AppError {
	return &AppError{
		Type:    ErrTypeMalformedResponse,
		Message: "response body is not valid JSON",
		Cause:   cause,
	}
}

// ResponseTooLargeError creates a malformed-response error for a body over limit bytes
func ResponseTooLargeError(limit int64, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeMalformedResponse,
		Message: fmt.Sprintf("response body exceeds %d bytes", limit),
		Cause:   cause,
	}
}

// PathNotFoundError creates an error for a JSONPath expression with no match
func PathNotFoundError(path string) *AppError {
	return &AppError{
		Type:    ErrTypePathNotFound,
		Message: fmt.Sprintf("no node matches path %s", path),
	}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
		Cause:   cause,
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// StatusCode returns the backend HTTP status carried by an unexpected status error, or 0
func StatusCode(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return 0
	}
	return appErr.StatusCode
}
