package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a
	// retry wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than rate limiting.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a failed API request with enough context to identify
// the stream, endpoint, and status that produced it.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Stream     string
	URL        string
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("easyecom %s error (status %d) stream=%s url=%s: %v",
			e.Class, e.StatusCode, e.Stream, e.URL, e.Err)
	}
	return fmt.Sprintf("easyecom %s error (status %d) stream=%s url=%s: %s",
		e.Class, e.StatusCode, e.Stream, e.URL, e.Body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the error is worth retrying. Rate limits,
// server errors, and network failures are transient; client errors are not.
func (e *APIError) Retriable() bool {
	return retriableClass(e.Class)
}

// retriableClass determines if an error class should be retried.
func retriableClass(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// 4xx errors will fail the same way on every attempt
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// Classify maps an error to its ErrorClass. Transport failures and
// timeouts count as network errors; anything unrecognized (auth failures,
// parse errors) has no class and is never retried.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorClassNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	return ""
}

// classifyStatus maps an HTTP status code to an ErrorClass.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
