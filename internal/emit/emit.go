// Package emit streams result rows as newline-delimited JSON and reports
// task failures as diagnostics.
//
// Every row becomes one self-contained JSON object with keys in column
// order. A task's rows are encoded before anything is written, then
// written and flushed under a single lock, so rows of concurrent tasks
// never interleave and a task that fails to encode writes nothing.
package emit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jerrypnz/kass/internal/engine"
	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

const indent = "  "

// flusher is implemented by buffered writers such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// Emitter is an engine.Sink writing rows to out and failures to a logger.
//
// Thread-safety: all methods are safe for concurrent use.
type Emitter struct {
	mu     sync.Mutex
	out    io.Writer
	pretty bool
	logger zerolog.Logger
	rows   int64
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithPretty switches to indented output. Each row is still one JSON
// document but spans several lines.
func WithPretty(pretty bool) Option {
	return func(e *Emitter) {
		e.pretty = pretty
	}
}

// WithLogger sets where task failures are reported. Default: disabled.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Emitter) {
		e.logger = l
	}
}

// New creates an Emitter writing to out.
func New(out io.Writer, opts ...Option) *Emitter {
	e := &Emitter{out: out, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Completed encodes every row of rs and writes them as one block.
// An unencodable value fails the task with a *store.SerializationError.
func (e *Emitter) Completed(t *engine.Task, rs *store.ResultSet) error {
	var buf bytes.Buffer
	for i, row := range rs.Rows {
		values, err := store.RowToJSON(rs.Columns, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := e.encodeRow(&buf, rs.Columns, values); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	if buf.Len() == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.write(buf.Bytes()); err != nil {
		return err
	}
	e.rows += int64(len(rs.Rows))
	return nil
}

// Failed logs a task failure. No row is written.
func (e *Emitter) Failed(t *engine.Task, err error) {
	cause := err
	var te *engine.TaskError
	if errors.As(err, &te) {
		cause = te.Err
	}

	e.logger.Error().
		Str("run", t.RunID).
		Int64("task", t.Index).
		Str("params", t.Params.String()).
		Str("kind", string(engine.KindOf(err))).
		Err(cause).
		Msg("task failed")
}

// Plan writes bq as {"query": ..., "params": [...]} instead of running it.
func (e *Emitter) Plan(bq query.BoundQuery) error {
	values, err := store.RowToJSON(nil, bq.Params)
	if err != nil {
		return err
	}
	if values == nil {
		values = []any{}
	}

	var buf bytes.Buffer
	if err := e.encodeRow(&buf, []string{"index", "query", "params"}, []any{bq.Index, bq.Template.Text, values}); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.write(buf.Bytes())
}

// Rows returns the number of rows written so far.
func (e *Emitter) Rows() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rows
}

// write must be called with mu held.
func (e *Emitter) write(p []byte) error {
	if _, err := e.out.Write(p); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if f, ok := e.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
	}
	return nil
}

// encodeRow appends one object with keys in column order, terminated by a
// newline.
func (e *Emitter) encodeRow(buf *bytes.Buffer, columns []string, values []any) error {
	var obj bytes.Buffer
	obj.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			obj.WriteByte(',')
		}
		name := fmt.Sprintf("column%d", i)
		if i < len(columns) {
			name = columns[i]
		}
		if err := encodeValue(&obj, name); err != nil {
			return err
		}
		obj.WriteByte(':')
		if err := encodeValue(&obj, v); err != nil {
			return err
		}
	}
	obj.WriteByte('}')

	if e.pretty {
		if err := json.Indent(buf, obj.Bytes(), "", indent); err != nil {
			return fmt.Errorf("indent row: %w", err)
		}
	} else {
		buf.Write(obj.Bytes())
	}
	buf.WriteByte('\n')
	return nil
}

// encodeValue writes v without HTML escaping, so values like "<none>" or
// "a&b" come out as they are stored.
func encodeValue(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return &store.SerializationError{Value: v, Reason: err.Error()}
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
