package types

import (
	"errors"
	"fmt"
)

// ErrInvalidDate is returned when a reported date does not match the configured layout.
var ErrInvalidDate = errors.New("invalid reported date")

// DateError describes a reported date that failed to parse.
type DateError struct {
	Value  string
	Layout string
	Err    error
}

// Error returns a formatted error string.
func (e *DateError) Error() string {
	return fmt.Sprintf("%v %q (layout %q)", ErrInvalidDate, e.Value, e.Layout)
}

// Unwrap lets errors.Is match ErrInvalidDate.
func (e *DateError) Unwrap() []error {
	return []error{ErrInvalidDate, e.Err}
}
