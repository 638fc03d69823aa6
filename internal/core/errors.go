// Package core provides core types and interfaces for the dispatch layer.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred.
// The set is closed: executors must fail with exactly one of these kinds.
type ErrorType string

const (
	// ErrorTypeProvider indicates a transient upstream backend error (5xx, timeouts, open circuit)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates a rate limit error (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a validation error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401/403)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeInvalidModel indicates the backend does not know the requested model
	ErrorTypeInvalidModel ErrorType = "invalid_model_error"
	// ErrorTypeInvalidProvider indicates no executor is configured for the provider
	ErrorTypeInvalidProvider ErrorType = "invalid_provider_error"
	// ErrorTypeNotFound indicates a not found error (404) for non-model resources
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// GatewayError is the base error type for all backend and validation errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	switch {
	case e.Provider != "" && e.Model != "":
		return fmt.Sprintf("[%s/%s] %s: %s", e.Provider, e.Model, e.Type, e.Message)
	case e.Provider != "":
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error kind is eligible for backoff retry.
func (e *GatewayError) Retryable() bool {
	return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeProvider
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest, ErrorTypeInvalidModel, ErrorTypeInvalidProvider:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewProviderError creates a new transient provider error (upstream 5xx)
func NewProviderError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewInvalidRequestErrorWithStatus creates a new invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewInvalidModelError reports a model the backend does not serve.
func NewInvalidModelError(provider, model, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidModel,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Provider:   provider,
		Model:      model,
	}
}

// NewInvalidProviderError reports a provider with no configured executor.
func NewInvalidProviderError(provider string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidProvider,
		Message:    fmt.Sprintf("no executor configured for provider %q", provider),
		StatusCode: http.StatusBadRequest,
		Provider:   provider,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseProviderError classifies an error response from a backend into a GatewayError.
// Only the status code drives the kind; the body is used for the message.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	message := string(body)
	if m := gjson.GetBytes(body, "error.message"); m.Exists() && m.String() != "" {
		message = m.String()
	} else if m := gjson.GetBytes(body, "message"); m.Exists() && m.String() != "" {
		message = m.String()
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode == http.StatusRequestTimeout:
		return NewProviderError(provider, http.StatusGatewayTimeout, message, originalErr)
	case statusCode == http.StatusNotFound:
		err := NewInvalidModelError(provider, "", message)
		err.StatusCode = statusCode
		return err
	case statusCode >= 400 && statusCode < 500:
		err := NewInvalidRequestErrorWithStatus(statusCode, message, originalErr)
		err.Provider = provider
		return err
	default:
		return NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
}

// KindOf returns the error kind carried by err, or "" when err is not a GatewayError.
func KindOf(err error) ErrorType {
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Type
	}
	return ""
}

// IsRetryable reports whether err is a rate limit or transient provider error.
// Errors outside the closed taxonomy are never retried.
func IsRetryable(err error) bool {
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Retryable()
	}
	return false
}

// ConstraintUnsatisfiableError is returned by selection when no backend
// survives constraint filtering.
type ConstraintUnsatisfiableError struct {
	// Violated maps a constraint name to a human readable description of its value.
	Violated map[string]string
	// Considered is the number of catalog entries inspected.
	Considered int
}

func (e *ConstraintUnsatisfiableError) Error() string {
	if len(e.Violated) == 0 {
		return fmt.Sprintf("no backend satisfies constraints (considered %d)", e.Considered)
	}
	names := make([]string, 0, len(e.Violated))
	for name := range e.Violated {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + e.Violated[name]
	}
	return fmt.Sprintf("no backend satisfies constraints [%s] (considered %d)", strings.Join(parts, ", "), e.Considered)
}

// HTTPStatusCode maps an unsatisfiable constraint set to 422.
func (e *ConstraintUnsatisfiableError) HTTPStatusCode() int {
	return http.StatusUnprocessableEntity
}

// RetriesExhaustedError wraps the last retryable error after the primary
// backend and every fallback failed.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}
