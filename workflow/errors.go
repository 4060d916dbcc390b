package workflow

import (
	"errors"
	"fmt"

	"github.com/c360studio/appforge/llm"
)

// Invariant violations. They surface inside a ConfigurationError and mean the
// stages were wired or invoked out of order.
var (
	ErrPromptRequired  = errors.New("user_prompt is required")
	ErrPlanMissing     = errors.New("plan must be set before the architect stage runs")
	ErrPlanAlreadySet  = errors.New("plan is already set; the plan stage runs once per workflow")
	ErrTaskPlanMissing = errors.New("task_plan must be set before the coder stage runs")
	ErrTaskPlanSet     = errors.New("task_plan is already set; the architect stage runs once per workflow")
	ErrCursorRange     = errors.New("coder_cursor out of range")
	ErrInvalidStatus   = errors.New("status does not match coder_cursor")
)

// Stage failures.
var (
	// ErrEmptyTaskList means the architect returned no steps. A run with no
	// steps would report success without writing anything.
	ErrEmptyTaskList = errors.New("architect produced an empty implementation_steps list")

	// ErrEmptyContent means the coder received whitespace-only output.
	ErrEmptyContent = errors.New("generated content is empty")
)

// ConfigurationError reports missing upstream state. It is never retried.
type ConfigurationError struct {
	Stage string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration error: %v", e.Stage, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// StageError reports a failed stage execution. TaskIndex and Path are set for
// the coder stage only; TaskIndex is -1 otherwise.
type StageError struct {
	Stage     string
	TaskIndex int
	Path      string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: task %d (%s): %v", e.Stage, e.TaskIndex, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a non-task StageError.
func NewStageError(stage string, retryable bool, err error) *StageError {
	return &StageError{Stage: stage, TaskIndex: -1, Retryable: retryable, Err: err}
}

// IsRetryable reports whether the failing stage may be re-run on the same
// state. Configuration errors never are. Otherwise a StageError's flag wins,
// and a bare transient LLM error counts as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Retryable
	}
	return llm.IsTransient(err)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
