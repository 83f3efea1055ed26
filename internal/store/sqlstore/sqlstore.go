// Package sqlstore runs queries against embedded SQL engines through
// database/sql. It registers the sqlite (mattn/go-sqlite3) and duckdb
// (marcboeker/go-duckdb) schemes.
//
// # Database Configuration
//
// SQLite files are opened with:
//   - WAL mode so the parallel readers never block each other
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// The pool holds as many connections as the run's parallelism. In-memory
// SQLite databases are private to one connection, so they get a pool of one.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

func init() {
	store.Register("sqlite", NewSQLite)
	store.Register("sqlite3", NewSQLite)
	store.Register("duckdb", NewDuckDB)
}

// sqlitePragmas are applied to every SQLite connection through the DSN,
// since database/sql may open a fresh connection at any time.
var sqlitePragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
}

// Client opens a database/sql pool for one endpoint.
type Client struct {
	name     string
	driver   string
	dsn      string
	endpoint string
	dialect  query.Dialect
	opts     store.Options
	// maxConns overrides the parallelism-based pool size when non-zero.
	maxConns int
	convert  func(any) any
}

// NewSQLite builds a client for sqlite://<path>. The path ":memory:" or an
// empty path selects a private in-memory database.
func NewSQLite(endpoint string, opts store.Options) (store.Client, error) {
	path := trimScheme(endpoint)
	c := &Client{
		name:     "sqlite",
		driver:   "sqlite3",
		endpoint: endpoint,
		dialect:  query.DialectQuestion,
		opts:     opts,
	}
	if path == "" || path == ":memory:" {
		c.dsn = ":memory:"
		c.maxConns = 1
		return c, nil
	}
	c.dsn = "file:" + path + "?" + sqlitePragmas.Encode()
	return c, nil
}

// NewDuckDB builds a client for duckdb://<path>. An empty path is an
// in-memory database shared by every connection of the pool.
func NewDuckDB(endpoint string, opts store.Options) (store.Client, error) {
	return &Client{
		name:     "duckdb",
		driver:   "duckdb",
		dsn:      trimScheme(endpoint),
		endpoint: endpoint,
		dialect:  query.DialectEither,
		opts:     opts,
		convert:  convertDuckDB,
	}, nil
}

func trimScheme(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		return endpoint[i+len("://"):]
	}
	return endpoint
}

func (c *Client) Name() string { return c.name }

func (c *Client) Dialect() query.Dialect { return c.dialect }

// Connect opens the pool and verifies it with a ping bounded by the
// connect timeout.
func (c *Client) Connect(ctx context.Context) (store.Session, error) {
	db, err := sql.Open(c.driver, c.dsn)
	if err != nil {
		return nil, &store.ConnectionError{Endpoint: c.endpoint, Err: fmt.Errorf("open database: %w", err)}
	}

	conns := c.maxConns
	if conns == 0 {
		conns = max(c.opts.Parallelism, 1)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)

	pingCtx := ctx
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &store.ConnectionError{Endpoint: c.endpoint, Err: fmt.Errorf("ping database: %w", err)}
	}

	return &Session{db: db, timeout: c.opts.Timeout, convert: c.convert}, nil
}

// Session executes queries on a database/sql pool. It is safe for
// concurrent use.
type Session struct {
	db      *sql.DB
	timeout time.Duration
	convert func(any) any
}

// DB returns the underlying pool.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Execute runs template with params and reads every row.
func (s *Session) Execute(ctx context.Context, template string, params []any) (*store.ResultSet, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, template, params...)
	if err != nil {
		return nil, &store.QueryError{Err: err}
	}
	defer rows.Close()

	rs, err := s.readRows(rows)
	if err != nil {
		return nil, &store.QueryError{Err: err}
	}
	return rs, nil
}

func (s *Session) readRows(rows *sql.Rows) (*store.ResultSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	rs := &store.ResultSet{Columns: make([]string, len(types))}
	for i, ct := range types {
		rs.Columns[i] = ct.Name()
	}

	for rows.Next() {
		values := make([]any, len(types))
		dest := make([]any, len(types))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(rs.Rows), err)
		}
		for i, v := range values {
			values[i] = s.normalize(types[i], v)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

// normalize turns driver text returned as bytes back into strings; only
// columns declared as binary keep their bytes.
func (s *Session) normalize(ct *sql.ColumnType, v any) any {
	if b, ok := v.([]byte); ok {
		typeName := ct.DatabaseTypeName()
		if strings.EqualFold(typeName, "UUID") && len(b) == 16 {
			if id, err := uuid.FromBytes(b); err == nil {
				return id
			}
		}
		if !isBinary(typeName) {
			return string(b)
		}
	}
	if s.convert != nil {
		return s.convert(v)
	}
	return v
}

func isBinary(typeName string) bool {
	switch strings.ToUpper(typeName) {
	case "BLOB", "BYTEA", "BINARY", "VARBINARY", "BIT":
		return true
	}
	return false
}

// Close closes the pool.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
