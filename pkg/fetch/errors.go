package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents DNS, connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// FetchError describes a failed fetch with its classification.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s %s error (status %d): %s: %v",
			e.URL, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s %s error (status %d): %s",
		e.URL, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status to an error class.
// 2xx and 3xx statuses are not errors and return "".
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ClassOf returns the class carried by err.
// Errors that are not a *FetchError are treated as network failures.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx requests will fail the same way again
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
