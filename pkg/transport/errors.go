package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and API throttle violations.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection, timeout and decoding failures.
	ErrorClassNetwork ErrorClass = "network"
)

// Common errors returned by the transport.
var (
	// ErrTransport matches any failure below HTTP: connect, timeout, reset,
	// or an undecodable body.
	ErrTransport = errors.New("transport error")

	// ErrProtocol matches any non-2xx HTTP response.
	ErrProtocol = errors.New("protocol error")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// Error is returned for every failed request. Class decides whether it is a
// transport failure (ErrorClassNetwork) or a protocol failure (the rest).
type Error struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	URL        string

	// Body holds the raw (still encoded) response body for protocol errors.
	Body            []byte
	ContentEncoding string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s error: %s: %v", e.Class, e.Message, e.Err)
		}
		return fmt.Sprintf("%s error: %s", e.Class, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the ErrTransport and ErrProtocol sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Class == ErrorClassNetwork
	case ErrProtocol:
		return e.Class != ErrorClassNetwork
	}
	return false
}

// ClassifyStatus maps an HTTP status code to an ErrorClass. 2xx and 3xx
// return the empty class.
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

// ClassOf returns the class of err, or the empty class if err is not an *Error.
func ClassOf(err error) ErrorClass {
	var te *Error
	if errors.As(err, &te) {
		return te.Class
	}
	return ""
}

// NetworkError wraps a failure below HTTP.
func NetworkError(message string, err error) *Error {
	return &Error{Class: ErrorClassNetwork, Message: message, Err: err}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// a bad request stays bad and only burns quota
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
