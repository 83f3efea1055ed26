package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerrypnz/kass/internal/query"
)

type nopClient struct {
	endpoint string
	opts     Options
}

func (c *nopClient) Name() string           { return "nop" }
func (c *nopClient) Dialect() query.Dialect { return query.DialectQuestion }

func (c *nopClient) Connect(context.Context) (Session, error) {
	return nil, errors.New("not connected")
}

func TestScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"localhost", "cassandra"},
		{"localhost:9042", "cassandra"},
		{"10.0.0.1:9042,10.0.0.2", "cassandra"},
		{"cassandra://db:9042/ks", "cassandra"},
		{"sqlite:///tmp/x.db", "sqlite"},
		{"DuckDB://", "duckdb"},
		{"postgres://u@h/db", "postgres"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Scheme(tt.endpoint), tt.endpoint)
	}
}

func TestRegisterAndNewClient(t *testing.T) {
	Register("nop-test", func(endpoint string, opts Options) (Client, error) {
		return &nopClient{endpoint: endpoint, opts: opts}, nil
	})

	c, err := NewClient("nop-test://somewhere", Options{Parallelism: 3})
	require.NoError(t, err)

	nc, ok := c.(*nopClient)
	require.True(t, ok)
	assert.Equal(t, "nop-test://somewhere", nc.endpoint, "endpoint is passed through unmodified")
	assert.Equal(t, 3, nc.opts.Parallelism)
	assert.Contains(t, Schemes(), "nop-test")

	assert.Panics(t, func() {
		Register("nop-test", func(string, Options) (Client, error) { return nil, nil })
	})
}

func TestNewClient_UnknownScheme(t *testing.T) {
	_, err := NewClient("mongodb://localhost", Options{})
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Contains(t, err.Error(), `unknown scheme "mongodb"`)
}

func TestResultSet_Len(t *testing.T) {
	var rs *ResultSet
	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, 2, (&ResultSet{Rows: [][]any{{1}, {2}}}).Len())
}

func TestErrorPredicates(t *testing.T) {
	qe := &QueryError{Err: errors.New("timeout")}
	wrapped := errors.Join(errors.New("task 3"), qe)

	assert.True(t, IsQueryError(wrapped))
	assert.False(t, IsConnectionError(wrapped))
	assert.ErrorIs(t, qe, qe.Err)
}
