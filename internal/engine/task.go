package engine

import (
	"fmt"
	"time"

	"github.com/jerrypnz/kass/internal/combo"
)

// State is a task's position in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"

	// StateSkipped marks a task that never started because the run was
	// aborting.
	StateSkipped State = "skipped"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// validTransitions lists, for each state, the states it may move to.
var validTransitions = map[State][]State{
	StatePending: {StateRunning, StateFailed, StateSkipped},
	StateRunning: {StateCompleted, StateFailed},
}

// Task is one bound query of a run.
type Task struct {
	RunID  string
	Index  int64
	Params combo.Combination

	State State
	// Rows is the number of rows delivered to the Sink once Completed.
	Rows int
	// Err is set once Failed.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

func newTask(runID string, index int64, c combo.Combination) *Task {
	return &Task{RunID: runID, Index: index, Params: c, State: StatePending}
}

// transition moves t to the next state, rejecting moves the lifecycle
// does not allow.
func (t *Task) transition(to State) error {
	for _, allowed := range validTransitions[t.State] {
		if allowed == to {
			t.State = to
			return nil
		}
	}
	return fmt.Errorf("task %d: invalid transition %s -> %s", t.Index, t.State, to)
}

// Elapsed returns how long the task ran, or zero if it never started.
func (t *Task) Elapsed() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
