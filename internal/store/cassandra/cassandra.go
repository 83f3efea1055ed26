// Package cassandra runs CQL queries through gocql. It is the default
// backend: endpoints without a scheme are cassandra contact points.
package cassandra

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

// DefaultPort is appended to contact points written without one.
const DefaultPort = "9042"

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.000"
	// minConnsPerHost matches the gocql default.
	minConnsPerHost = 2
)

func init() {
	store.Register(store.DefaultScheme, New)
}

// Client holds a gocql cluster configuration.
type Client struct {
	endpoint string
	cluster  *gocql.ClusterConfig
}

// New builds a cluster configuration from endpoint, either a contact point
// list "host[:port][,host[:port]...]" or "cassandra://hosts[/keyspace]".
// A keyspace in the URL wins over opts.Keyspace.
func New(endpoint string, opts store.Options) (store.Client, error) {
	hosts, keyspace, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, &store.ConnectionError{Endpoint: endpoint, Err: err}
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = opts.Keyspace
	if keyspace != "" {
		cluster.Keyspace = keyspace
	}
	if opts.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(opts.Consistency)
		if err != nil {
			return nil, &store.ConnectionError{Endpoint: endpoint, Err: err}
		}
		cluster.Consistency = c
	}
	if opts.Timeout > 0 {
		cluster.Timeout = opts.Timeout
	}
	if opts.ConnectTimeout > 0 {
		cluster.ConnectTimeout = opts.ConnectTimeout
	}
	cluster.NumConns = connsPerHost(opts.Parallelism, len(hosts))

	return &Client{endpoint: endpoint, cluster: cluster}, nil
}

// connsPerHost spreads parallelism connections across the contact points.
func connsPerHost(parallelism, hosts int) int {
	n := (parallelism + hosts - 1) / hosts
	return max(n, minConnsPerHost)
}

// ParseEndpoint splits endpoint into normalized host:port contact points
// and an optional keyspace.
func ParseEndpoint(endpoint string) (hosts []string, keyspace string, err error) {
	rest := endpoint
	if i := strings.Index(rest, "://"); i >= 0 {
		if scheme := strings.ToLower(rest[:i]); scheme != store.DefaultScheme {
			return nil, "", fmt.Errorf("unsupported scheme %q", scheme)
		}
		rest = rest[i+len("://"):]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			keyspace = rest[j+1:]
			rest = rest[:j]
		}
	}

	if strings.TrimSpace(rest) == "" {
		return []string{net.JoinHostPort("localhost", DefaultPort)}, keyspace, nil
	}

	for _, h := range strings.Split(rest, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, "", fmt.Errorf("empty contact point in %q", endpoint)
		}
		hosts = append(hosts, withDefaultPort(h))
	}
	return hosts, keyspace, nil
}

func withDefaultPort(h string) string {
	if _, _, err := net.SplitHostPort(h); err == nil {
		return h
	}
	// Bare IPv6 addresses and bracketed ones without a port.
	h = strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
	return net.JoinHostPort(h, DefaultPort)
}

func (c *Client) Name() string { return "cassandra" }

func (c *Client) Dialect() query.Dialect { return query.DialectQuestion }

// Connect creates the gocql session.
func (c *Client) Connect(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &store.ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	s, err := c.cluster.CreateSession()
	if err != nil {
		return nil, &store.ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	return &Session{session: s}, nil
}

// Session executes CQL statements. gocql sessions are safe for
// concurrent use.
type Session struct {
	session *gocql.Session
}

// Execute runs stmt with params and pages through every row.
func (s *Session) Execute(ctx context.Context, stmt string, params []any) (*store.ResultSet, error) {
	iter := s.session.Query(stmt, params...).WithContext(ctx).Iter()

	cols := iter.Columns()
	rs := &store.ResultSet{Columns: make([]string, len(cols))}
	for i, col := range cols {
		rs.Columns[i] = col.Name
	}

	targets, dest, err := scanTargets(cols)
	if err != nil {
		iter.Close()
		return nil, &store.QueryError{Err: err}
	}
	for iter.Scan(dest...) {
		row := make([]any, len(targets))
		for i, t := range targets {
			row[i] = t.value()
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := iter.Close(); err != nil {
		return nil, &store.QueryError{Err: err}
	}
	return rs, nil
}

// Close releases the session's connections.
func (s *Session) Close() error {
	s.session.Close()
	return nil
}

// target holds the scan destinations of one column. Tuple columns take one
// destination per element.
type target struct {
	infos []gocql.TypeInfo
	ptrs  []any
	tuple bool
}

func (t target) value() any {
	if !t.tuple {
		return convert(t.infos[0], reflect.ValueOf(t.ptrs[0]).Elem())
	}
	out := make([]any, len(t.ptrs))
	for i, p := range t.ptrs {
		out[i] = convert(t.infos[i], reflect.ValueOf(p).Elem())
	}
	return out
}

// scanTargets allocates a **T per scanned value, where *T is what the
// value's TypeInfo decodes into. A null cell leaves the outer pointer nil.
func scanTargets(cols []gocql.ColumnInfo) ([]target, []any, error) {
	targets := make([]target, len(cols))
	var dest []any
	for i, col := range cols {
		if col.TypeInfo == nil {
			return nil, nil, fmt.Errorf("column %q has no type information", col.Name)
		}
		infos := []gocql.TypeInfo{col.TypeInfo}
		tuple, isTuple := col.TypeInfo.(gocql.TupleTypeInfo)
		if isTuple {
			infos = tuple.Elems
		}
		t := target{infos: infos, tuple: isTuple}
		for _, info := range infos {
			ptr, err := newTarget(col.Name, info)
			if err != nil {
				return nil, nil, err
			}
			t.ptrs = append(t.ptrs, ptr)
		}
		targets[i] = t
		dest = append(dest, t.ptrs...)
	}
	return targets, dest, nil
}

// newTarget calls TypeInfo.New, which panics for types gocql has no Go
// mapping for (custom types).
func newTarget(column string, info gocql.TypeInfo) (ptr any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("column %q: unsupported type %s: %v", column, info.Type(), r)
		}
	}()
	proto := info.New()
	if proto == nil {
		return nil, fmt.Errorf("column %q: unsupported type %s", column, info.Type())
	}
	return reflect.New(reflect.TypeOf(proto)).Interface(), nil
}

// convert reads a scanned *T and rewrites the CQL types the generic JSON
// mapping would misrender.
func convert(info gocql.TypeInfo, ptr reflect.Value) any {
	if ptr.IsNil() {
		return nil
	}
	v := ptr.Elem().Interface()

	switch info.Type() {
	case gocql.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(dateLayout)
		}
	case gocql.TypeTime:
		if d, ok := v.(time.Duration); ok {
			return time.Time{}.Add(d).Format(timeLayout)
		}
	}

	switch x := v.(type) {
	case gocql.UUID:
		return uuid.UUID(x)
	case gocql.Duration:
		return map[string]any{
			"months":      x.Months,
			"days":        x.Days,
			"nanoseconds": x.Nanoseconds,
		}
	}
	return v
}
