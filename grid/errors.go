package grid

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of engine error categories
type ErrorKind string

const (
	ErrVenueUnavailable    ErrorKind = "venue_unavailable"
	ErrInsufficientCapital ErrorKind = "insufficient_capital"
	ErrOrphanOrderDetected ErrorKind = "orphan_order_detected"
	ErrInvalidConfig       ErrorKind = "invalid_config"
	ErrStateCorruption     ErrorKind = "state_corruption"
)

// Error carries an ErrorKind so callers can branch on category instead of
// string-matching venue messages
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a categorized error
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr wraps an underlying error with a category
func WrapErr(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or anything it wraps) has the given kind
func IsKind(err error, kind ErrorKind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
