package engine

import (
	"errors"
	"fmt"

	"github.com/jerrypnz/kass/internal/combo"
	"github.com/jerrypnz/kass/internal/params"
	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

// Kind categorizes run errors.
type Kind string

const (
	// KindParse indicates a malformed param-spec. Fatal.
	KindParse Kind = "PARSE"

	// KindArity indicates a placeholder / value count mismatch.
	KindArity Kind = "ARITY"

	// KindConnection indicates the store session could not be established. Fatal.
	KindConnection Kind = "CONNECTION"

	// KindQuery indicates one bound query failed at the store.
	KindQuery Kind = "QUERY"

	// KindSerialization indicates a returned value had no JSON form.
	KindSerialization Kind = "SERIALIZATION"
)

// KindOf classifies err by the concrete error it wraps. Errors that match
// no known type are reported as query failures.
func KindOf(err error) Kind {
	var (
		te *TaskError
		pe *params.ParseError
		ae *query.ArityError
	)
	switch {
	case errors.As(err, &te):
		return te.Kind
	case errors.As(err, &pe):
		return KindParse
	case errors.As(err, &ae):
		return KindArity
	case store.IsConnectionError(err):
		return KindConnection
	case store.IsSerializationError(err):
		return KindSerialization
	}
	return KindQuery
}

// TaskError is the failure of one task, carrying what is needed to report
// it without the task itself.
type TaskError struct {
	// Kind identifies the error category.
	Kind Kind

	// Index is the task's position in enumeration order.
	Index int64

	// Params are the values the task was bound with.
	Params combo.Combination

	Err error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: task %d %s: %v", e.Kind, e.Index, e.Params, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// newTaskError wraps err for the task at index, classifying it.
func newTaskError(index int64, c combo.Combination, err error) *TaskError {
	return &TaskError{Kind: KindOf(err), Index: index, Params: c, Err: err}
}

// IsQueryError returns true if the error is a per-task query failure.
// Uses errors.As to handle wrapped errors.
func IsQueryError(err error) bool {
	return err != nil && KindOf(err) == KindQuery
}

// IsSerializationError returns true if the error is an encoding failure.
func IsSerializationError(err error) bool {
	return err != nil && KindOf(err) == KindSerialization
}
