package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorType represents the category of an upstream failure.
type ErrorType string

const (
	// ErrorTypeNetwork indicates a network-level error (connection refused, DNS, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout indicates the request timed out or its context ended
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeRateLimit indicates HTTP 429
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer indicates HTTP 5xx
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient indicates HTTP 4xx except 429
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeValidation indicates a response that could not be used
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeUnknown indicates an error of unknown type
	ErrorTypeUnknown ErrorType = "unknown"
)

// FetchError is the structured error every provider adapter returns.
type FetchError struct {
	Type       ErrorType
	Retryable  bool
	StatusCode int
	Message    string
	// Body holds at most the first 200 bytes of the upstream response.
	Body  string
	Cause error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(" error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Cause }

// NewNetworkError wraps a transport failure, separating timeouts.
func NewNetworkError(source string, cause error) *FetchError {
	var ne net.Error
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) ||
		(errors.As(cause, &ne) && ne.Timeout()) {
		return &FetchError{
			Type:      ErrorTypeTimeout,
			Retryable: true,
			Message:   source + " request timed out",
			Cause:     cause,
		}
	}
	return &FetchError{
		Type:      ErrorTypeNetwork,
		Retryable: true,
		Message:   source + " request failed",
		Cause:     cause,
	}
}

// NewValidationError reports a response that arrived but was unusable.
func NewValidationError(source, message string) *FetchError {
	return &FetchError{
		Type:    ErrorTypeValidation,
		Message: source + ": " + message,
	}
}

// ClassifyHTTPError turns a non-2xx status and its body into a FetchError.
func ClassifyHTTPError(source string, statusCode int, body string) *FetchError {
	e := &FetchError{
		StatusCode: statusCode,
		Message:    source + " request failed",
		Body:       truncate(strings.TrimSpace(body), maxErrorBodyInStatus),
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Type, e.Retryable = ErrorTypeRateLimit, true
	case statusCode >= 500:
		e.Type, e.Retryable = ErrorTypeServer, true
	case statusCode >= 400:
		e.Type = ErrorTypeClient
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
