package store

import (
	"errors"
	"fmt"
)

// ConnectionError reports that a session with the store could not be
// established. It is fatal to a run.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports that the store rejected or failed one bound query.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SerializationError reports a returned value with no JSON representation.
type SerializationError struct {
	Column string
	Value  any
	Reason string
}

func (e *SerializationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("column %q: cannot encode %T as JSON: %s", e.Column, e.Value, e.Reason)
	}
	return fmt.Sprintf("cannot encode %T as JSON: %s", e.Value, e.Reason)
}

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsQueryError reports whether err wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// IsSerializationError reports whether err wraps a *SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
