// Package postgres runs queries against PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

func init() {
	store.Register("postgres", New)
	store.Register("postgresql", New)
}

// Client holds a parsed pool configuration.
type Client struct {
	endpoint string
	config   *pgxpool.Config
	opts     store.Options
}

// New parses endpoint as a libpq connection URL. The pool is sized to at
// least the run's parallelism.
func New(endpoint string, opts store.Options) (store.Client, error) {
	config, err := pgxpool.ParseConfig(endpoint)
	if err != nil {
		return nil, &store.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("parse config: %w", err)}
	}
	if n := int32(opts.Parallelism); n > config.MaxConns {
		config.MaxConns = n
	}
	if opts.ConnectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	return &Client{endpoint: endpoint, config: config, opts: opts}, nil
}

func (c *Client) Name() string { return "postgres" }

func (c *Client) Dialect() query.Dialect { return query.DialectDollar }

// Connect creates the pool and pings it.
func (c *Client) Connect(ctx context.Context) (store.Session, error) {
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, c.config)
	if err != nil {
		return nil, &store.ConnectionError{Endpoint: c.endpoint, Err: fmt.Errorf("create pool: %w", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &store.ConnectionError{Endpoint: c.endpoint, Err: fmt.Errorf("ping database: %w", err)}
	}
	return &Session{pool: pool, timeout: c.opts.Timeout}, nil
}

// Session executes queries on a pgx pool.
type Session struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Execute runs template with params and reads every row.
func (s *Session) Execute(ctx context.Context, template string, params []any) (*store.ResultSet, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows, err := s.pool.Query(ctx, template, params...)
	if err != nil {
		return nil, &store.QueryError{Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &store.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &store.QueryError{Err: fmt.Errorf("decode row %d: %w", len(rs.Rows), err)}
		}
		for i, v := range values {
			values[i] = convert(v)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.QueryError{Err: err}
	}
	return rs, nil
}

// Close closes the pool.
func (s *Session) Close() error {
	s.pool.Close()
	return nil
}

// timeLayout matches the rendering of cassandra time columns.
const timeLayout = "15:04:05.000"

// convert maps pgtype structs without a JSON form of their own.
func convert(v any) any {
	switch x := v.(type) {
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		return map[string]any{
			"months": x.Months,
			"days":   x.Days,
			"micros": x.Microseconds,
		}
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		return time.Time{}.Add(time.Duration(x.Microseconds) * time.Microsecond).Format(timeLayout)
	}
	return v
}
