package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerrypnz/kass/internal/combo"
	"github.com/jerrypnz/kass/internal/params"
	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
	"github.com/jerrypnz/kass/internal/testutil"
)

// recordingSink collects task outcomes. completedErr, when set, decides
// whether Completed rejects a task.
type recordingSink struct {
	mu           sync.Mutex
	completed    []Task
	failed       []Task
	errs         []error
	completedErr func(t *Task, rs *store.ResultSet) error
}

func (s *recordingSink) Completed(t *Task, rs *store.ResultSet) error {
	if s.completedErr != nil {
		if err := s.completedErr(t, rs); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, *t)
	return nil
}

func (s *recordingSink) Failed(t *Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, *t)
	s.errs = append(s.errs, err)
}

func mustTemplate(t *testing.T, text string) query.Template {
	t.Helper()
	tmpl, err := query.NewTemplate(text, query.DialectQuestion)
	require.NoError(t, err)
	return tmpl
}

func mustCombos(t *testing.T, tokens ...string) *combo.Generator {
	t.Helper()
	specs, err := params.ParseAll(tokens)
	require.NoError(t, err)
	g, err := combo.New(params.Sequences(specs))
	require.NoError(t, err)
	return g
}

func slowStore(delay time.Duration) *testutil.ScriptedStore {
	return testutil.NewScriptedStore().RespondDefault(func(p []any) testutil.Response {
		r := testutil.EchoResponse(p)
		r.Delay = delay
		return r
	})
}

func TestEngine_New(t *testing.T) {
	e := New(testutil.NewScriptedStore(), query.Template{}, &recordingSink{})

	assert.Equal(t, DefaultParallelism, e.parallelism)
	assert.Equal(t, FailContinue, e.policy)

	e = New(testutil.NewScriptedStore(), query.Template{}, &recordingSink{}, WithParallelism(0))
	assert.Equal(t, DefaultParallelism, e.parallelism, "non-positive parallelism is ignored")
}

func TestEngine_EndToEnd(t *testing.T) {
	st := testutil.NewScriptedStore()
	sink := &recordingSink{}
	tmpl := mustTemplate(t, "SELECT * FROM events WHERE day = ? AND region = ?")
	g := mustCombos(t, "2020-01-01..2020-01-02/1d", "nz,us")

	e := New(st, tmpl, sink, WithParallelism(1), WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")))
	summary, err := e.Run(context.Background(), g.All())
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, int64(4), summary.Tasks)
	assert.Equal(t, int64(4), summary.Completed)
	assert.Equal(t, int64(4), summary.Rows)
	assert.Zero(t, summary.Failed)

	calls := st.Calls()
	require.Len(t, calls, 4)
	var got [][]any
	for _, c := range calls {
		assert.Equal(t, tmpl.Text, c.Template, "template text is passed through unchanged")
		got = append(got, c.Params)
	}
	assert.Equal(t, [][]any{
		{"2020-01-01", "nz"},
		{"2020-01-01", "us"},
		{"2020-01-02", "nz"},
		{"2020-01-02", "us"},
	}, got, "with one worker, tasks run in enumeration order")
}

func TestEngine_EveryCombinationExactlyOnce(t *testing.T) {
	st := slowStore(time.Millisecond)
	sink := &recordingSink{}
	g := mustCombos(t, "1..20", "a,b,c")

	e := New(st, mustTemplate(t, "SELECT ?, ?"), sink, WithParallelism(4))
	summary, err := e.Run(context.Background(), g.All())
	require.NoError(t, err)
	assert.Equal(t, int64(60), summary.Completed)

	seen := make(map[int64]int)
	for _, task := range sink.completed {
		seen[task.Index]++
	}
	require.Len(t, seen, 60)
	for i, n := range seen {
		assert.Equal(t, 1, n, "task %d", i)
	}
}

func TestEngine_MaxConcurrencyBounded(t *testing.T) {
	st := slowStore(30 * time.Millisecond)

	var (
		mu         sync.Mutex
		running    int
		maxRunning int
	)
	hook := func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		switch task.State {
		case StateRunning:
			running++
			maxRunning = max(maxRunning, running)
		case StateCompleted, StateFailed:
			running--
		}
	}

	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{}, WithParallelism(2), WithStateHook(hook))
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b,c,d,e").All())
	require.NoError(t, err)

	assert.Equal(t, int64(5), summary.Completed)
	assert.LessOrEqual(t, maxRunning, 2)
	assert.LessOrEqual(t, st.MaxConcurrent(), 2)
	assert.Equal(t, 0, running)
}

func TestEngine_ParallelismIsUsed(t *testing.T) {
	st := slowStore(50 * time.Millisecond)

	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{}, WithParallelism(4))
	start := time.Now()
	_, err := e.Run(context.Background(), mustCombos(t, "a,b,c,d").All())
	require.NoError(t, err)

	assert.Greater(t, st.MaxConcurrent(), 1)
	assert.Less(t, time.Since(start), 4*50*time.Millisecond)
}

func TestEngine_FailureIsolation(t *testing.T) {
	boom := errors.New("partition unavailable")
	st := testutil.NewScriptedStore().Respond(testutil.Response{Err: boom}, "2020-01-01", "us")
	sink := &recordingSink{}

	e := New(st, mustTemplate(t, "SELECT * FROM events WHERE day = ? AND region = ?"), sink)
	summary, err := e.Run(context.Background(), mustCombos(t, "2020-01-01..2020-01-02/1d", "nz,us").All())
	require.NoError(t, err, "task failures do not fail the run")

	assert.Equal(t, int64(4), summary.Tasks)
	assert.Equal(t, int64(3), summary.Completed)
	assert.Equal(t, int64(1), summary.Failed)
	assert.False(t, summary.Aborted)

	require.Len(t, sink.failed, 1)
	assert.Equal(t, combo.Combination{"2020-01-01", "us"}, sink.failed[0].Params)
	assert.Equal(t, StateFailed, sink.failed[0].State)

	var te *TaskError
	require.ErrorAs(t, sink.errs[0], &te)
	assert.Equal(t, KindQuery, te.Kind)
	assert.Equal(t, int64(1), te.Index)
	assert.ErrorIs(t, sink.errs[0], boom)
	assert.True(t, IsQueryError(sink.errs[0]))
}

func TestEngine_AbortPolicy(t *testing.T) {
	st := testutil.NewScriptedStore().Respond(testutil.Response{Err: errors.New("boom")}, "b")
	sink := &recordingSink{}

	e := New(st, mustTemplate(t, "SELECT ?"), sink, WithParallelism(1), WithFailurePolicy(FailAbort))
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b,c,d,e").All())
	require.NoError(t, err)

	assert.True(t, summary.Aborted)
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Less(t, summary.Tasks, int64(5))
	assert.Equal(t, summary.Tasks, summary.Completed+summary.Failed+summary.Skipped)
	assert.Len(t, st.Calls(), 2, "nothing executes after the failure")
}

func TestEngine_AbortedTasksEndSkipped(t *testing.T) {
	st := testutil.NewScriptedStore().Respond(testutil.Response{Err: errors.New("boom")}, "b")

	var (
		mu     sync.Mutex
		states = make(map[int64][]State)
	)
	hook := func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		states[task.Index] = append(states[task.Index], task.State)
	}

	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{},
		WithParallelism(1), WithFailurePolicy(FailAbort), WithStateHook(hook))
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b,c,d,e").All())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Skipped)
	assert.Equal(t, []State{StatePending, StateSkipped}, states[2])

	require.Len(t, states, int(summary.Tasks))
	for index, path := range states {
		assert.True(t, path[len(path)-1].Terminal(), "task %d ended in %s", index, path[len(path)-1])
	}
}

func TestEngine_PullsCombinationsOnDemand(t *testing.T) {
	const parallelism = 3
	st := slowStore(20 * time.Millisecond)
	g := mustCombos(t, "1..30")

	var (
		mu       sync.Mutex
		pulled   int64
		started  int64
		maxAhead int64
	)
	hook := func(task Task) {
		if task.State == StateRunning {
			mu.Lock()
			started++
			mu.Unlock()
		}
	}
	counted := func(yield func(int64, combo.Combination) bool) {
		for i, c := range g.All() {
			mu.Lock()
			pulled++
			maxAhead = max(maxAhead, pulled-started)
			mu.Unlock()
			if !yield(i, c) {
				return
			}
		}
	}

	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{}, WithParallelism(parallelism), WithStateHook(hook))
	summary, err := e.Run(context.Background(), counted)
	require.NoError(t, err)

	assert.Equal(t, int64(30), summary.Completed)
	assert.Equal(t, int64(30), pulled)
	assert.LessOrEqual(t, maxAhead, int64(parallelism+1),
		"combinations are pulled only as workers free up")
}

func TestEngine_ContinuePolicyRunsEverything(t *testing.T) {
	st := testutil.NewScriptedStore().Respond(testutil.Response{Err: errors.New("boom")}, "b")

	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{}, WithParallelism(1))
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b,c,d,e").All())
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.Completed)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Len(t, st.Calls(), 5)
}

func TestEngine_StateTransitions(t *testing.T) {
	st := testutil.NewScriptedStore().Respond(testutil.Response{Err: errors.New("boom")}, "b")

	var (
		mu     sync.Mutex
		states = make(map[int64][]State)
	)
	hook := func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		states[task.Index] = append(states[task.Index], task.State)
	}

	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{}, WithStateHook(hook))
	_, err := e.Run(context.Background(), mustCombos(t, "a,b").All())
	require.NoError(t, err)

	assert.Equal(t, []State{StatePending, StateRunning, StateCompleted}, states[0])
	assert.Equal(t, []State{StatePending, StateRunning, StateFailed}, states[1])
}

func TestEngine_SinkRejectionFailsTask(t *testing.T) {
	sink := &recordingSink{
		completedErr: func(task *Task, rs *store.ResultSet) error {
			if task.Index == 0 {
				_, err := store.RowToJSON([]string{"ratio"}, []any{math.NaN()})
				return err
			}
			return nil
		},
	}

	e := New(testutil.NewScriptedStore(), mustTemplate(t, "SELECT ?"), sink)
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b").All())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, int64(1), summary.Failed)
	require.Len(t, sink.errs, 1)
	assert.Equal(t, KindSerialization, KindOf(sink.errs[0]))
	assert.True(t, IsSerializationError(sink.errs[0]))
}

func TestEngine_BindMismatchFailsEachTask(t *testing.T) {
	st := testutil.NewScriptedStore()
	sink := &recordingSink{}

	e := New(st, mustTemplate(t, "SELECT ?, ?"), sink)
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b").All())
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Failed)
	assert.Empty(t, st.Calls(), "nothing reaches the store")
	for _, err := range sink.errs {
		assert.Equal(t, KindArity, KindOf(err))
	}
}

func TestEngine_EmptyProduct(t *testing.T) {
	st := testutil.NewScriptedStore()
	sink := &recordingSink{}

	e := New(st, mustTemplate(t, "SELECT ?, ?"), sink)
	summary, err := e.Run(context.Background(), mustCombos(t, "", "nz,us").All())
	require.NoError(t, err)

	assert.Zero(t, summary.Tasks)
	assert.Empty(t, st.Calls())
	assert.Empty(t, sink.completed)
	assert.Empty(t, sink.failed)
}

func TestEngine_NoParamsRunsOnce(t *testing.T) {
	st := testutil.NewScriptedStore()

	e := New(st, mustTemplate(t, "SELECT now() FROM system.local"), &recordingSink{})
	summary, err := e.Run(context.Background(), mustCombos(t).All())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Completed)
	require.Len(t, st.Calls(), 1)
	assert.Empty(t, st.Calls()[0].Params)
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := testutil.NewScriptedStore()
	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{})
	summary, err := e.Run(ctx, mustCombos(t, "a,b,c").All())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Tasks)
	assert.Empty(t, st.Calls())
}

// panickingSession panics on every Execute.
type panickingSession struct{}

func (panickingSession) Execute(context.Context, string, []any) (*store.ResultSet, error) {
	panic("driver bug")
}

func (panickingSession) Close() error { return nil }

func TestEngine_PanicIsolatedToTask(t *testing.T) {
	sink := &recordingSink{}

	e := New(panickingSession{}, mustTemplate(t, "SELECT ?"), sink, WithParallelism(2))
	summary, err := e.Run(context.Background(), mustCombos(t, "a,b,c").All())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Failed)
	require.Len(t, sink.errs, 3)
	assert.Contains(t, sink.errs[0].Error(), "panic: driver bug")
}

func TestEngine_ReusableAcrossRuns(t *testing.T) {
	st := testutil.NewScriptedStore()
	e := New(st, mustTemplate(t, "SELECT ?"), &recordingSink{},
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("fixed")))

	g := mustCombos(t, "a,b")
	for i := 0; i < 2; i++ {
		summary, err := e.Run(context.Background(), g.All())
		require.NoError(t, err)
		assert.Equal(t, "fixed", summary.RunID)
		assert.Equal(t, int64(2), summary.Completed)
	}
	assert.Len(t, st.Calls(), 4)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, FailAbort, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
