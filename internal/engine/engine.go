package engine

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/jerrypnz/kass/internal/combo"
	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

// DefaultParallelism is the default number of concurrently running tasks.
const DefaultParallelism = 5

// FailurePolicy decides what a task failure does to the rest of the run.
type FailurePolicy string

const (
	// FailContinue isolates failures to their task.
	FailContinue FailurePolicy = "continue"

	// FailAbort starts no new task after the first failure.
	FailAbort FailurePolicy = "abort"
)

// ParseFailurePolicy parses "continue" or "abort".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case FailContinue, FailAbort:
		return p, nil
	}
	return "", fmt.Errorf("invalid failure policy %q (want continue or abort)", s)
}

// Sink receives the outcome of every task that ran. Both methods may be
// called from several workers at once.
type Sink interface {
	// Completed delivers a task's rows. A non-nil error fails the task.
	Completed(t *Task, rs *store.ResultSet) error

	// Failed reports a task failure.
	Failed(t *Task, err error)
}

// Summary describes a finished run.
type Summary struct {
	RunID string

	// Tasks is the number of combinations pulled from the generator.
	Tasks     int64
	Completed int64
	Failed    int64
	// Skipped counts tasks pulled but never started because the run was
	// aborting. They end in StateSkipped.
	Skipped int64
	Rows    int64

	// Aborted is set when FailAbort stopped the run early.
	Aborted bool
	Elapsed time.Duration
}

// Engine runs one template against a session for a stream of combinations.
//
// Thread-safety model:
//   - Run(): may be called again after it returns, not concurrently
//   - Sink and state hook: invoked from worker goroutines
type Engine struct {
	session     store.Session
	tmpl        query.Template
	sink        Sink
	parallelism int
	policy      FailurePolicy
	logger      zerolog.Logger
	runIDs      RunIDGenerator
	stateHook   func(Task)
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism sets the worker pool size.
//
// Default: 5 (DefaultParallelism). Values below 1 are ignored.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithFailurePolicy sets what happens after a task fails.
//
// Default: FailContinue.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLogger sets the diagnostics logger. Default: disabled.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithStateHook registers fn to observe every task state change. fn gets a
// snapshot of the task and is called from the goroutine that made the
// change.
func WithStateHook(fn func(Task)) Option {
	return func(e *Engine) {
		e.stateHook = fn
	}
}

// New creates an Engine executing tmpl on session and reporting to sink.
func New(session store.Session, tmpl query.Template, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		session:     session,
		tmpl:        tmpl,
		sink:        sink,
		parallelism: DefaultParallelism,
		policy:      FailContinue,
		logger:      zerolog.Nop(),
		runIDs:      UUIDv7Generator{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// runState holds the counters shared by a run's workers.
type runState struct {
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	rows      atomic.Int64
}

// Run executes one task per combination with at most Parallelism tasks
// running at once. Combinations are pulled only as workers free up.
//
// Run returns after every submitted task is terminal. The returned error is
// non-nil only if the pool could not be created or ctx was cancelled; task
// failures are reported to the Sink and counted in the Summary.
func (e *Engine) Run(ctx context.Context, combos iter.Seq2[int64, combo.Combination]) (Summary, error) {
	start := time.Now()
	runID := e.runIDs.Generate()
	log := e.logger.With().Str("run", runID).Logger()

	pool, err := ants.NewPool(e.parallelism, ants.WithPanicHandler(func(v any) {
		log.Error().Interface("panic", v).Msg("worker panic")
	}))
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	log.Debug().
		Str("template", e.tmpl.Text).
		Int("parallelism", e.parallelism).
		Str("on_error", string(e.policy)).
		Msg("run starting")

	var (
		wg    sync.WaitGroup
		state runState
		tasks int64
	)

	for index, c := range combos {
		if ctx.Err() != nil || e.aborting(&state) {
			break
		}

		t := newTask(runID, index, c)
		e.notify(t)
		tasks++

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			e.execute(ctx, log, t, &state)
		})
		if err != nil {
			wg.Done()
			e.fail(log, t, &state, newTaskError(index, c, fmt.Errorf("submit task: %w", err)))
		}
	}

	wg.Wait()

	summary := Summary{
		RunID:     runID,
		Tasks:     tasks,
		Completed: state.completed.Load(),
		Failed:    state.failed.Load(),
		Skipped:   state.skipped.Load(),
		Rows:      state.rows.Load(),
		Aborted:   e.aborting(&state),
		Elapsed:   time.Since(start),
	}

	log.Debug().
		Int64("tasks", summary.Tasks).
		Int64("completed", summary.Completed).
		Int64("failed", summary.Failed).
		Int64("skipped", summary.Skipped).
		Int64("rows", summary.Rows).
		Dur("elapsed", summary.Elapsed).
		Msg("run finished")

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

func (e *Engine) aborting(state *runState) bool {
	return e.policy == FailAbort && state.failed.Load() > 0
}

// execute takes one task from Pending to a terminal state.
func (e *Engine) execute(ctx context.Context, log zerolog.Logger, t *Task, state *runState) {
	// A task whose submission was blocked while a sibling failed never starts.
	if e.aborting(state) {
		t.FinishedAt = time.Now()
		e.move(t, StateSkipped)
		state.skipped.Add(1)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if !t.State.Terminal() {
				e.fail(log, t, state, newTaskError(t.Index, t.Params, fmt.Errorf("panic: %v", r)))
			}
		}
	}()

	t.StartedAt = time.Now()
	e.move(t, StateRunning)
	log.Debug().Int64("task", t.Index).Str("params", t.Params.String()).Msg("task running")

	bq, err := query.Bind(e.tmpl, t.Index, t.Params)
	if err != nil {
		e.fail(log, t, state, newTaskError(t.Index, t.Params, err))
		return
	}

	rs, err := e.session.Execute(ctx, bq.Template.Text, bq.Params)
	if err != nil {
		e.fail(log, t, state, newTaskError(t.Index, t.Params, err))
		return
	}
	if rs == nil {
		rs = &store.ResultSet{}
	}

	if err := e.sink.Completed(t, rs); err != nil {
		e.fail(log, t, state, newTaskError(t.Index, t.Params, err))
		return
	}

	t.Rows = rs.Len()
	t.FinishedAt = time.Now()
	e.move(t, StateCompleted)
	state.completed.Add(1)
	state.rows.Add(int64(t.Rows))

	log.Debug().
		Int64("task", t.Index).
		Int("rows", t.Rows).
		Dur("elapsed", t.Elapsed()).
		Msg("task completed")
}

// fail moves t to Failed and reports err to the Sink.
func (e *Engine) fail(log zerolog.Logger, t *Task, state *runState, err *TaskError) {
	t.Err = err
	t.FinishedAt = time.Now()
	e.move(t, StateFailed)
	state.failed.Add(1)

	log.Debug().Int64("task", t.Index).Str("kind", string(err.Kind)).Msg("task failed")
	e.sink.Failed(t, err)
}

func (e *Engine) move(t *Task, to State) {
	if err := t.transition(to); err != nil {
		panic(err)
	}
	e.notify(t)
}

func (e *Engine) notify(t *Task) {
	if e.stateHook != nil {
		e.stateHook(*t)
	}
}
