package workflow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal flag of a run.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
)

// Outcome of one recorded stage execution.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// StageRecord is one entry in a run's history.
type StageRecord struct {
	Stage     string    `json:"stage"`
	TaskIndex int       `json:"task_index"`
	Path      string    `json:"path,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// State is the record threaded through every stage. Values are treated as
// immutable: Apply and Record return modified copies.
type State struct {
	RunID       string    `json:"run_id"`
	UserPrompt  string    `json:"user_prompt"`
	Plan        *Plan     `json:"plan,omitempty"`
	TaskPlan    *TaskPlan `json:"task_plan,omitempty"`
	CoderCursor int       `json:"coder_cursor"`
	Status      Status    `json:"status"`

	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	History   []StageRecord `json:"history,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// NewState starts a run for prompt.
func NewState(prompt string) (State, error) {
	if strings.TrimSpace(prompt) == "" {
		return State{}, ErrPromptRequired
	}
	now := time.Now().UTC()
	return State{
		RunID:      uuid.New().String(),
		UserPrompt: prompt,
		Status:     StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Steps returns the number of implementation steps, 0 before the architect ran.
func (s State) Steps() int {
	return s.TaskPlan.Len()
}

// Done reports whether the run has finished.
func (s State) Done() bool {
	return s.Status == StatusDone
}

// Validate checks the state invariants. Snapshots loaded from storage are
// validated before a run resumes from them.
func (s State) Validate() error {
	if strings.TrimSpace(s.UserPrompt) == "" {
		return ErrPromptRequired
	}
	if s.TaskPlan != nil && s.Plan == nil {
		return ErrPlanMissing
	}
	if s.CoderCursor < 0 || s.CoderCursor > s.Steps() {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrCursorRange, s.CoderCursor, s.Steps())
	}
	switch s.Status {
	case StatusRunning:
	case StatusDone:
		if s.TaskPlan == nil {
			return fmt.Errorf("%w: DONE without task_plan", ErrInvalidStatus)
		}
		if s.CoderCursor < s.Steps() {
			return fmt.Errorf("%w: DONE at %d of %d", ErrInvalidStatus, s.CoderCursor, s.Steps())
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, s.Status)
	}
	return nil
}

// Update is the partial change a stage returns. Nil fields are left alone.
type Update struct {
	Plan     *Plan
	TaskPlan *TaskPlan
	Cursor   *int
	Status   *Status
}

// SetCursor returns an Update advancing the cursor to n.
func SetCursor(n int) Update {
	return Update{Cursor: &n}
}

// MarkDone returns an Update that finishes the run.
func MarkDone() Update {
	done := StatusDone
	return Update{Status: &done}
}

// IsZero reports whether u changes nothing.
func (u Update) IsZero() bool {
	return u.Plan == nil && u.TaskPlan == nil && u.Cursor == nil && u.Status == nil
}

// Apply returns s with u applied. It enforces the lifecycle rules: the plan
// and task plan are set once and in order, the cursor only moves forward by
// one step, and DONE is only reachable once every step has run. On error s is
// returned unchanged.
func (s State) Apply(u Update) (State, error) {
	next := s
	next.History = slices.Clone(s.History)

	if u.Plan != nil {
		if s.Plan != nil {
			return s, ErrPlanAlreadySet
		}
		next.Plan = u.Plan
	}
	if u.TaskPlan != nil {
		if next.Plan == nil {
			return s, ErrPlanMissing
		}
		if s.TaskPlan != nil {
			return s, ErrTaskPlanSet
		}
		next.TaskPlan = u.TaskPlan
	}
	if u.Cursor != nil {
		if next.TaskPlan == nil {
			return s, ErrTaskPlanMissing
		}
		if *u.Cursor != s.CoderCursor+1 || *u.Cursor > next.Steps() {
			return s, fmt.Errorf("%w: cannot move from %d to %d of %d", ErrCursorRange, s.CoderCursor, *u.Cursor, next.Steps())
		}
		next.CoderCursor = *u.Cursor
	}
	if u.Status != nil {
		switch *u.Status {
		case StatusRunning:
			if s.Status == StatusDone {
				return s, fmt.Errorf("%w: DONE is terminal", ErrInvalidStatus)
			}
		case StatusDone:
			if next.TaskPlan == nil {
				return s, ErrTaskPlanMissing
			}
			if next.CoderCursor < next.Steps() {
				return s, fmt.Errorf("%w: DONE at %d of %d", ErrInvalidStatus, next.CoderCursor, next.Steps())
			}
		default:
			return s, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, *u.Status)
		}
		next.Status = *u.Status
	}

	if !u.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	return next, nil
}

// Record returns s with rec appended to its history. A failed record also
// sets LastError; a successful one clears it.
func (s State) Record(rec StageRecord) State {
	next := s
	next.History = append(slices.Clone(s.History), rec)
	if rec.Outcome == OutcomeFailed {
		next.LastError = rec.Error
	} else {
		next.LastError = ""
	}
	next.UpdatedAt = rec.At
	return next
}

// Phase is the coder state machine position: Running at Cursor, or Done.
type Phase struct {
	Done   bool
	Cursor int
}

func (p Phase) String() string {
	if p.Done {
		return "DONE"
	}
	return fmt.Sprintf("RUNNING(%d)", p.Cursor)
}

// CoderPhase derives the coder phase from s. The phase is Done once the cursor
// has reached the end of the task list, even before Status says so.
func CoderPhase(s State) (Phase, error) {
	if s.TaskPlan == nil {
		return Phase{}, ErrTaskPlanMissing
	}
	if s.CoderCursor < 0 || s.CoderCursor > s.Steps() {
		return Phase{}, fmt.Errorf("%w: %d not in [0, %d]", ErrCursorRange, s.CoderCursor, s.Steps())
	}
	if s.CoderCursor == s.Steps() {
		return Phase{Done: true, Cursor: s.CoderCursor}, nil
	}
	return Phase{Cursor: s.CoderCursor}, nil
}

// CurrentTask returns the task at the cursor, or false when none is pending.
func (s State) CurrentTask() (ImplementationTask, bool) {
	if s.TaskPlan == nil || s.CoderCursor >= s.Steps() {
		return ImplementationTask{}, false
	}
	return s.TaskPlan.ImplementationSteps[s.CoderCursor], true
}
