package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "2 of 4 queries failed", NewExitError(ExitFailure, "2 of 4 queries failed").Error())

	wrapped := WrapExitError(ExitCommandError, "cannot connect", errors.New("connection refused"))
	assert.Equal(t, "cannot connect: connection refused", wrapped.Error())
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapExitError(ExitCommandError, "context", cause)
	assert.ErrorIs(t, err, cause)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "failure", err: NewExitError(ExitFailure, "failed"), want: ExitFailure},
		{name: "command error", err: NewExitError(ExitCommandError, "bad"), want: ExitCommandError},
		{name: "wrapped exit error", err: fmt.Errorf("outer: %w", NewExitError(ExitFailure, "inner")), want: ExitFailure},
		{name: "plain error", err: errors.New("unknown flag: --nope"), want: ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
