package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType categorises why an acquisition strategy failed
type ErrorType string

const (
	// ErrorTypeNetwork indicates a connection-level failure (refused, DNS, reset)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout indicates the request or render exceeded its fixed deadline
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeStatus indicates a non-2xx HTTP response
	ErrorTypeStatus ErrorType = "status"
	// ErrorTypeParse indicates the page could not be parsed
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeEmpty indicates the page parsed but held no usable table
	ErrorTypeEmpty ErrorType = "empty"
	// ErrorTypeRender indicates the browser session could not be started or driven
	ErrorTypeRender ErrorType = "render"
	// ErrorTypeUnavailable indicates the strategy is not configured
	ErrorTypeUnavailable ErrorType = "unavailable"
	// ErrorTypePanic indicates the strategy panicked and was recovered
	ErrorTypePanic ErrorType = "panic"
)

// FetchError is a classified acquisition failure. It never leaves the
// scraper: it is logged and recorded, then the next strategy runs.
type FetchError struct {
	Type       ErrorType
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := e.Message
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewStatusError creates an error for an unexpected HTTP status code
func NewStatusError(statusCode int) *FetchError {
	return &FetchError{
		Type:       ErrorTypeStatus,
		StatusCode: statusCode,
		Message:    "unexpected response status",
	}
}

// NewParseError creates an error for an unparseable page
func NewParseError(cause error) *FetchError {
	return &FetchError{Type: ErrorTypeParse, Message: "failed to parse page", Cause: cause}
}

// NewEmptyError creates an error for a page without usable tabular data
func NewEmptyError(message string) *FetchError {
	return &FetchError{Type: ErrorTypeEmpty, Message: message}
}

// NewRenderError creates an error for a browser session failure
func NewRenderError(message string, cause error) *FetchError {
	return &FetchError{Type: ErrorTypeRender, Message: message, Cause: cause}
}

// ClassifyRequestError turns a transport error into a network or timeout error
func ClassifyRequestError(err error) *FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Type: ErrorTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &FetchError{Type: ErrorTypeNetwork, Message: "request failed", Cause: err}
}

// ErrorTypeOf returns the classification of err, wrapping unknown errors as parse errors
func ErrorTypeOf(err error) ErrorType {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Type
	}
	return ErrorTypeParse
}
