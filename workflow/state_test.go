package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calculatorPlan() *Plan {
	return &Plan{
		Name:        "Simple Calculator",
		Description: "A browser calculator",
		Techstack:   "javascript, html, css",
		Features:    []string{"addition", "subtraction"},
		Files: []File{
			{Path: "index.html", Purpose: "main page"},
			{Path: "script.js", Purpose: "logic"},
			{Path: "style.css", Purpose: "styles"},
		},
	}
}

func threeStepPlan() *TaskPlan {
	return &TaskPlan{ImplementationSteps: []ImplementationTask{
		{Filepath: "index.html", TaskDescription: "markup"},
		{Filepath: "script.js", TaskDescription: "logic"},
		{Filepath: "style.css", TaskDescription: "styles"},
	}}
}

func TestNewState(t *testing.T) {
	s, err := NewState("create a simple calculator web application")
	require.NoError(t, err)

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Zero(t, s.CoderCursor)
	assert.NoError(t, s.Validate())

	_, err = NewState("   ")
	assert.ErrorIs(t, err, ErrPromptRequired)
}

func TestApplyLifecycle(t *testing.T) {
	s, err := NewState("calc")
	require.NoError(t, err)

	_, err = s.Apply(Update{TaskPlan: threeStepPlan()})
	assert.ErrorIs(t, err, ErrPlanMissing)

	_, err = s.Apply(SetCursor(1))
	assert.ErrorIs(t, err, ErrTaskPlanMissing)

	s, err = s.Apply(Update{Plan: calculatorPlan()})
	require.NoError(t, err)

	_, err = s.Apply(Update{Plan: calculatorPlan()})
	assert.ErrorIs(t, err, ErrPlanAlreadySet)

	s, err = s.Apply(Update{TaskPlan: threeStepPlan()})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Steps())

	_, err = s.Apply(MarkDone())
	assert.ErrorIs(t, err, ErrInvalidStatus, "DONE before the last step")

	_, err = s.Apply(SetCursor(2))
	assert.ErrorIs(t, err, ErrCursorRange, "cursor skips")

	for i := 1; i <= 3; i++ {
		s, err = s.Apply(SetCursor(i))
		require.NoError(t, err)
		assert.Equal(t, i, s.CoderCursor)
	}

	_, err = s.Apply(SetCursor(4))
	assert.ErrorIs(t, err, ErrCursorRange, "cursor past end")

	s, err = s.Apply(MarkDone())
	require.NoError(t, err)
	assert.True(t, s.Done())
	assert.NoError(t, s.Validate())

	running := StatusRunning
	_, err = s.Apply(Update{Status: &running})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApplyCursorAndDoneTogether(t *testing.T) {
	s := State{UserPrompt: "x", Plan: calculatorPlan(), TaskPlan: threeStepPlan(), CoderCursor: 2, Status: StatusRunning}

	u := SetCursor(3)
	done := StatusDone
	u.Status = &done

	next, err := s.Apply(u)
	require.NoError(t, err)
	assert.Equal(t, 3, next.CoderCursor)
	assert.Equal(t, StatusDone, next.Status)
}

func TestApplyLeavesReceiverUnchanged(t *testing.T) {
	s := State{UserPrompt: "x", Plan: calculatorPlan(), TaskPlan: threeStepPlan(), Status: StatusRunning}
	s = s.Record(StageRecord{Stage: StageArchitect, Outcome: OutcomeOK, At: time.Now()})

	next, err := s.Apply(SetCursor(1))
	require.NoError(t, err)
	next = next.Record(StageRecord{Stage: StageCoder, Outcome: OutcomeOK, At: time.Now()})

	assert.Zero(t, s.CoderCursor)
	assert.Len(t, s.History, 1)
	assert.Len(t, next.History, 2)
}

func TestRecordTracksLastError(t *testing.T) {
	s := State{UserPrompt: "x"}

	s = s.Record(StageRecord{Stage: StageCoder, Outcome: OutcomeFailed, Error: "boom", At: time.Now()})
	assert.Equal(t, "boom", s.LastError)

	s = s.Record(StageRecord{Stage: StageCoder, Outcome: OutcomeOK, At: time.Now()})
	assert.Empty(t, s.LastError)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		wantErr error
	}{
		{"fresh", State{UserPrompt: "x", Status: StatusRunning}, nil},
		{"no prompt", State{Status: StatusRunning}, ErrPromptRequired},
		{"task plan without plan", State{UserPrompt: "x", TaskPlan: threeStepPlan(), Status: StatusRunning}, ErrPlanMissing},
		{"cursor past end", State{UserPrompt: "x", Plan: calculatorPlan(), TaskPlan: threeStepPlan(), CoderCursor: 4, Status: StatusRunning}, ErrCursorRange},
		{"negative cursor", State{UserPrompt: "x", CoderCursor: -1, Status: StatusRunning}, ErrCursorRange},
		{"early done", State{UserPrompt: "x", Plan: calculatorPlan(), TaskPlan: threeStepPlan(), CoderCursor: 1, Status: StatusDone}, ErrInvalidStatus},
		{"unknown status", State{UserPrompt: "x", Status: "PAUSED"}, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCoderPhase(t *testing.T) {
	_, err := CoderPhase(State{UserPrompt: "x"})
	assert.ErrorIs(t, err, ErrTaskPlanMissing)

	s := State{UserPrompt: "x", Plan: calculatorPlan(), TaskPlan: threeStepPlan()}
	p, err := CoderPhase(s)
	require.NoError(t, err)
	assert.Equal(t, Phase{Cursor: 0}, p)
	assert.Equal(t, "RUNNING(0)", p.String())

	task, ok := s.CurrentTask()
	require.True(t, ok)
	assert.Equal(t, "index.html", task.Filepath)

	s.CoderCursor = 3
	p, err = CoderPhase(s)
	require.NoError(t, err)
	assert.True(t, p.Done)
	assert.Equal(t, "DONE", p.String())

	_, ok = s.CurrentTask()
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&ConfigurationError{Stage: StageArchitect, Err: ErrPlanMissing}))
	assert.True(t, IsRetryable(&StageError{Stage: StageCoder, Retryable: true, Err: ErrEmptyContent}))
	assert.False(t, IsRetryable(NewStageError(StagePlan, false, ErrEmptyTaskList)))
}

func TestErrorMessages(t *testing.T) {
	cfg := &ConfigurationError{Stage: StageArchitect, Err: ErrPlanMissing}
	assert.Equal(t, "architect: configuration error: plan must be set before the architect stage runs", cfg.Error())

	se := &StageError{Stage: StageCoder, TaskIndex: 1, Path: "script.js", Err: ErrEmptyContent}
	assert.Equal(t, "coder: task 1 (script.js): generated content is empty", se.Error())
	assert.ErrorIs(t, se, ErrEmptyContent)
}
