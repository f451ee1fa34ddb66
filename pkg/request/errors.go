package request

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameter is returned when a resource needs an identifier set
	// (ids, tags) that the caller never populated.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrInvalidParameter is returned by query options given out-of-range values.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// MissingParameterError names the parameter that was required but unset.
type MissingParameterError struct {
	Param    string
	Resource string
}

// Error implements the error interface.
func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: %q for resource %q", ErrMissingParameter, e.Param, e.Resource)
}

// Unwrap implements error unwrapping for errors.Is.
func (e *MissingParameterError) Unwrap() error {
	return ErrMissingParameter
}

func invalidParam(name string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidParameter, name, fmt.Sprintf(format, args...))
}
