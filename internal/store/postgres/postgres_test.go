package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

func TestNew_SizesPoolToParallelism(t *testing.T) {
	c, err := store.NewClient("postgres://kass@localhost:5432/events?pool_max_conns=2", store.Options{Parallelism: 16})
	require.NoError(t, err)

	pc := c.(*Client)
	assert.Equal(t, int32(16), pc.config.MaxConns)
	assert.Equal(t, query.DialectDollar, c.Dialect())
	assert.Equal(t, "postgres", c.Name())
}

func TestNew_KeepsLargerConfiguredPool(t *testing.T) {
	c, err := New("postgresql://kass@localhost/events?pool_max_conns=32", store.Options{Parallelism: 4})
	require.NoError(t, err)
	assert.Equal(t, int32(32), c.(*Client).config.MaxConns)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("postgres://kass@localhost:notaport/events", store.Options{Parallelism: 1})
	require.Error(t, err)
	assert.True(t, store.IsConnectionError(err))
}

func TestConnect_Refused(t *testing.T) {
	c, err := New("postgres://kass@127.0.0.1:1/events?sslmode=disable", store.Options{
		Parallelism:    1,
		ConnectTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	_, err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsConnectionError(err))
}

func TestConvert(t *testing.T) {
	assert.Equal(t,
		map[string]any{"months": int32(1), "days": int32(2), "micros": int64(3)},
		convert(pgtype.Interval{Months: 1, Days: 2, Microseconds: 3, Valid: true}))
	assert.Nil(t, convert(pgtype.Interval{}))

	micros := int64((13*time.Hour + 4*time.Minute + 5*time.Second + 678*time.Millisecond) / time.Microsecond)
	assert.Equal(t, "13:04:05.678", convert(pgtype.Time{Microseconds: micros, Valid: true}))
	assert.Nil(t, convert(pgtype.Time{}))

	assert.Equal(t, "nz", convert("nz"))
}
