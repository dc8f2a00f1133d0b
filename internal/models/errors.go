package models

import "fmt"

// IOError reports a failure opening, reading or writing a file
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FormatError reports bytes that do not follow the expected file layout.
// Expected and Actual are optional and printed when set.
type FormatError struct {
	// Format names the file format, e.g. "nifti1" or "trackvis"
	Format string

	// Field names the header field or record that failed
	Field string

	Expected interface{}
	Actual   interface{}

	// Err is an optional underlying cause
	Err error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s", e.Format, e.Field)
	if e.Expected != nil || e.Actual != nil {
		msg += fmt.Sprintf(" (expected %v, got %v)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// PreconditionError reports caller-supplied data that breaks a documented
// contract, such as a grid whose size does not match its header
type PreconditionError struct {
	What   string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition violated: %s: %s", e.What, e.Detail)
}
