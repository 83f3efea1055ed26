// Package store defines the store client capability the engine runs
// queries through, and the registry of backends that implement it.
//
// A backend registers a Factory for one or more endpoint schemes from its
// init function. The CLI blank-imports the backends it ships with and picks
// one with NewClient based on the --host value:
//
//	localhost:9042,10.0.0.2   cassandra (default, no scheme)
//	cassandra://host:9042/ks  cassandra
//	sqlite:///tmp/events.db   sqlite3
//	duckdb:///tmp/events.ddb  duckdb (empty path is in-memory)
//	postgres://user@host/db   postgres
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jerrypnz/kass/internal/query"
)

// DefaultScheme is used for endpoints written without a scheme.
const DefaultScheme = "cassandra"

// Options carries the connection settings shared by every backend.
// Backends ignore the fields that have no meaning for them.
type Options struct {
	// Parallelism is the number of queries the engine keeps in flight.
	// Backends size their connection pools to at least this many.
	Parallelism int

	// Timeout bounds a single query.
	Timeout time.Duration

	// ConnectTimeout bounds establishing the session.
	ConnectTimeout time.Duration

	// Consistency is a cassandra consistency level name such as ONE or QUORUM.
	Consistency string

	// Keyspace is the default cassandra keyspace.
	Keyspace string
}

// Client is a configured but not yet connected store.
type Client interface {
	// Name identifies the backend in diagnostics.
	Name() string

	// Dialect reports how the backend marks positional placeholders.
	Dialect() query.Dialect

	// Connect establishes a session. Failures are *ConnectionError.
	Connect(ctx context.Context) (Session, error)
}

// Session executes bound queries. It must be safe for concurrent use by
// the scheduler's workers.
type Session interface {
	// Execute runs template with params bound positionally and returns
	// every row in the order the store produced them. Failures are
	// *QueryError.
	Execute(ctx context.Context, template string, params []any) (*ResultSet, error)

	Close() error
}

// ResultSet is the ordered rows one bound query returned. Each row holds
// one value per column, in column order.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Factory builds a Client for an endpoint of a registered scheme. The
// endpoint is passed through unmodified.
type Factory func(endpoint string, opts Options) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under scheme. It panics if scheme is
// registered twice or factory is nil.
func Register(scheme string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("store: Register factory is nil")
	}
	if _, dup := registry[scheme]; dup {
		panic("store: Register called twice for scheme " + scheme)
	}
	registry[scheme] = factory
}

// Schemes returns the registered schemes, sorted.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Scheme returns the scheme of endpoint, or DefaultScheme when it has none.
func Scheme(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i > 0 {
		return strings.ToLower(endpoint[:i])
	}
	return DefaultScheme
}

// NewClient returns a Client for endpoint from the backend registered for
// its scheme. An unknown scheme is a *ConnectionError.
func NewClient(endpoint string, opts Options) (Client, error) {
	scheme := Scheme(endpoint)

	registryMu.RLock()
	factory, ok := registry[scheme]
	registryMu.RUnlock()

	if !ok {
		return nil, &ConnectionError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("unknown scheme %q (registered: %s)", scheme, strings.Join(Schemes(), ", ")),
		}
	}
	return factory(endpoint, opts)
}
