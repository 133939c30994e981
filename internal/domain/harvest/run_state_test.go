package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStateValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RunState
		to      RunState
		wantErr bool
	}{
		{name: "idle to running", from: RunStateIdle, to: RunStateRunning},
		{name: "idle to failed", from: RunStateIdle, to: RunStateFailed},
		{name: "idle to completed", from: RunStateIdle, to: RunStateCompleted, wantErr: true},
		{name: "running to paused", from: RunStateRunning, to: RunStatePaused},
		{name: "paused to running", from: RunStatePaused, to: RunStateRunning},
		{name: "paused to stopped", from: RunStatePaused, to: RunStateStopped},
		{name: "running to completed", from: RunStateRunning, to: RunStateCompleted},
		{name: "running to failed", from: RunStateRunning, to: RunStateFailed},
		{name: "running to idle", from: RunStateRunning, to: RunStateIdle, wantErr: true},
		{name: "completed is terminal", from: RunStateCompleted, to: RunStateRunning, wantErr: true},
		{name: "stopped is terminal", from: RunStateStopped, to: RunStateRunning, wantErr: true},
		{name: "failed is terminal", from: RunStateFailed, to: RunStateRunning, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	assert.True(t, RunStateStopped.IsTerminal())
	assert.True(t, RunStateCompleted.IsTerminal())
	assert.True(t, RunStateFailed.IsTerminal())
	assert.False(t, RunStatePaused.IsTerminal())
}
