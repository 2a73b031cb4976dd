// Package errors defines the error types surfaced by the routing engine and
// the classifier the failover manager uses to decide between retrying a
// deployment, advancing to the next one, or giving up.
package errors

import (
	"fmt"
	"net/http"
)

// LLMError represents a classified failure returned by an upstream deployment.
// Request functions passed to the failover manager should return it (or wrap it)
// so the retry policy can see the status code.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

func newLLMError(status int, typ, provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: status,
		Message:    message,
		Type:       typ,
		Provider:   provider,
		Model:      model,
		Retryable:  retryableStatus(status),
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusUnauthorized, TypeAuthentication, provider, model, message)
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusTooManyRequests, TypeRateLimit, provider, model, message)
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusBadRequest, TypeInvalidRequest, provider, model, message)
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusNotFound, TypeNotFound, provider, model, message)
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusRequestTimeout, TypeTimeout, provider, model, message)
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusServiceUnavailable, TypeServiceUnavailable, provider, model, message)
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *LLMError {
	return newLLMError(http.StatusInternalServerError, TypeInternalError, provider, model, message)
}

// NewStatusError builds an LLMError from a raw upstream status code.
func NewStatusError(status int, provider, model, message string) *LLMError {
	typ := TypeInternalError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		typ = TypeAuthentication
	case status == http.StatusTooManyRequests:
		typ = TypeRateLimit
	case status == http.StatusNotFound:
		typ = TypeNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		typ = TypeTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		typ = TypeServiceUnavailable
	case status >= 400 && status < 500:
		typ = TypeInvalidRequest
	}
	return newLLMError(status, typ, provider, model, message)
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, // 408
		http.StatusTooManyRequests,    // 429
		http.StatusBadGateway,         // 502
		http.StatusServiceUnavailable, // 503
		http.StatusGatewayTimeout:     // 504
		return true
	}
	return false
}
