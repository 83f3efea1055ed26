package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jerrypnz/kass/internal/combo"
	"github.com/jerrypnz/kass/internal/params"
	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

func TestKindOf(t *testing.T) {
	_, parseErr := params.Parse("2020-13-01..2020-12-01/1d")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"parse", parseErr, KindParse},
		{"arity", &query.ArityError{Placeholders: 2, Values: 1}, KindArity},
		{"connection", &store.ConnectionError{Endpoint: "db", Err: errors.New("refused")}, KindConnection},
		{"query", &store.QueryError{Err: errors.New("timeout")}, KindQuery},
		{"serialization", &store.SerializationError{Value: 1, Reason: "x"}, KindSerialization},
		{"wrapped", fmt.Errorf("task: %w", &store.SerializationError{Value: 1, Reason: "x"}), KindSerialization},
		{"unknown", errors.New("something else"), KindQuery},
		{"task error keeps its kind", &TaskError{Kind: KindArity, Err: errors.New("x")}, KindArity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestTaskError(t *testing.T) {
	cause := &store.QueryError{Err: errors.New("read timeout")}
	err := newTaskError(3, combo.Combination{"2020-01-01", "nz"}, cause)

	assert.Equal(t, KindQuery, err.Kind)
	assert.Equal(t, "QUERY: task 3 (2020-01-01,nz): query failed: read timeout", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsQueryError(err))
	assert.False(t, IsSerializationError(err))
	assert.False(t, IsQueryError(nil))
}
