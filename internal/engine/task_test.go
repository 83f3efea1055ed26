package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerrypnz/kass/internal/combo"
)

func TestTask_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"complete", []State{StateRunning, StateCompleted}, true},
		{"fail while running", []State{StateRunning, StateFailed}, true},
		{"fail before running", []State{StateFailed}, true},
		{"skip", []State{StateSkipped}, true},
		{"skip while running", []State{StateRunning, StateSkipped}, false},
		{"run after skip", []State{StateSkipped, StateRunning}, false},
		{"complete without running", []State{StateCompleted}, false},
		{"restart", []State{StateRunning, StateCompleted, StateRunning}, false},
		{"fail after complete", []State{StateRunning, StateCompleted, StateFailed}, false},
		{"run twice", []State{StateRunning, StateRunning}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask("run", 0, combo.Combination{"a"})
			require.Equal(t, StatePending, task.State)

			var err error
			for _, s := range tt.path {
				if err = task.transition(s); err != nil {
					break
				}
			}
			if tt.valid {
				assert.NoError(t, err)
				assert.True(t, task.State.Terminal())
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTask_Elapsed(t *testing.T) {
	task := newTask("run", 0, nil)
	assert.Zero(t, task.Elapsed())

	task.StartedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	task.FinishedAt = task.StartedAt.Add(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, task.Elapsed())
}
