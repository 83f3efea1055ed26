package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

// Response is what ScriptedStore returns for one Execute call.
type Response struct {
	Result *store.ResultSet
	Err    error
	// Delay is how long Execute blocks before returning.
	Delay time.Duration
}

// Call records one Execute invocation.
type Call struct {
	Template string
	Params   []any
}

// ScriptedStore is an in-memory store.Client and store.Session whose
// results are scripted per parameter tuple.
//
// Parameters without a scripted response get the default response: one
// row echoing the parameters in columns p0, p1, ...
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedStore struct {
	mu         sync.Mutex
	dialect    query.Dialect
	responses  map[string]Response
	fallback   func(params []any) Response
	connectErr error
	calls      []Call
	running    int
	maxRunning int
	connects   int
	closed     bool
}

// NewScriptedStore creates a store that accepts "?" placeholders.
func NewScriptedStore() *ScriptedStore {
	return &ScriptedStore{
		dialect:   query.DialectQuestion,
		responses: make(map[string]Response),
		fallback:  EchoResponse,
	}
}

// EchoResponse returns a single row whose values are params.
func EchoResponse(params []any) Response {
	cols := make([]string, len(params))
	row := make([]any, len(params))
	for i, p := range params {
		cols[i] = fmt.Sprintf("p%d", i)
		row[i] = p
	}
	return Response{Result: &store.ResultSet{Columns: cols, Rows: [][]any{row}}}
}

// key distinguishes parameter tuples by value and type, so "1" and
// int32(1) script different responses.
func key(params []any) string {
	if len(params) == 0 {
		return "()"
	}
	return fmt.Sprintf("%#v", params)
}

// Respond scripts the response for one exact parameter tuple.
func (s *ScriptedStore) Respond(r Response, params ...any) *ScriptedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key(params)] = r
	return s
}

// RespondDefault replaces the response for unscripted parameters.
func (s *ScriptedStore) RespondDefault(fn func(params []any) Response) *ScriptedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

// FailConnect makes Connect return a *store.ConnectionError wrapping err.
func (s *ScriptedStore) FailConnect(err error) *ScriptedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
	return s
}

// WithDialect sets the placeholder dialect the store reports.
func (s *ScriptedStore) WithDialect(d query.Dialect) *ScriptedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialect = d
	return s
}

// Name implements store.Client.
func (s *ScriptedStore) Name() string { return "scripted" }

// Dialect implements store.Client.
func (s *ScriptedStore) Dialect() query.Dialect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialect
}

// Connect implements store.Client. The store is its own session.
func (s *ScriptedStore) Connect(ctx context.Context) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return nil, &store.ConnectionError{Endpoint: "scripted", Err: s.connectErr}
	}
	return s, nil
}

// Execute implements store.Session.
func (s *ScriptedStore) Execute(ctx context.Context, template string, params []any) (*store.ResultSet, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Template: template, Params: append([]any(nil), params...)})
	s.running++
	s.maxRunning = max(s.maxRunning, s.running)
	r, ok := s.responses[key(params)]
	if !ok {
		r = s.fallback(params)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, &store.QueryError{Err: ctx.Err()}
		}
	}
	if r.Err != nil {
		return nil, &store.QueryError{Err: r.Err}
	}
	return r.Result, nil
}

// Close implements store.Session.
func (s *ScriptedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns every Execute call in the order they started.
func (s *ScriptedStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// MaxConcurrent returns the highest number of Execute calls that were in
// progress at the same time.
func (s *ScriptedStore) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRunning
}

// Connects returns how many times Connect was called.
func (s *ScriptedStore) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Closed reports whether Close was called.
func (s *ScriptedStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
