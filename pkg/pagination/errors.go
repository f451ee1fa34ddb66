package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrParse matches any response body that does not have the envelope shape.
	ErrParse = errors.New("parse error")

	// ErrInvalidCursorState is returned when a Sequence is created from a
	// cursor that has already advanced past its initial state.
	ErrInvalidCursorState = errors.New("invalid cursor state")

	// ErrIndexOutOfRange is returned by Sequence.Get past the end of the data.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnsupportedOperation is returned by the mutating Sequence methods.
	ErrUnsupportedOperation = errors.New("unsupported operation: sequence is read-only")
)

// ParseError describes why a response body was rejected. When the API
// answered with its own error object, APIErrorID/APIErrorName are set.
type ParseError struct {
	Page   int
	Reason string

	APIErrorID   int
	APIErrorName string

	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: page %d: %s", ErrParse, e.Page, e.Reason)
	if e.APIErrorName != "" {
		msg = fmt.Sprintf("%s (api error %d %s)", msg, e.APIErrorID, e.APIErrorName)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrParse) true for every *ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// IndexError reports the index and the known length for ErrIndexOutOfRange.
type IndexError struct {
	Index  int
	Length int
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: index %d, length %d", ErrIndexOutOfRange, e.Index, e.Length)
}

// Unwrap implements error unwrapping for errors.Is.
func (e *IndexError) Unwrap() error {
	return ErrIndexOutOfRange
}
