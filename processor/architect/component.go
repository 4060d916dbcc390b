// Package architect implements the architect stage: it expands a Plan into
// the ordered TaskPlan the coder stage executes.
package architect

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/c360studio/appforge/llm"
	"github.com/c360studio/appforge/workflow"
	"github.com/c360studio/appforge/workflow/prompts"
)

// PathChecker normalizes a task path and rejects unsafe ones. *file.Store
// implements it.
type PathChecker interface {
	Check(path string) (string, error)
}

// Component is the architect stage.
type Component struct {
	config    Config
	completer llm.Completer
	paths     PathChecker
	logger    *slog.Logger

	taskPlansGenerated atomic.Int64
	generationsFailed  atomic.Int64
}

// New returns an architect stage. paths validates every step's filepath.
func New(config Config, completer llm.Completer, paths PathChecker, logger *slog.Logger) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if paths == nil {
		return nil, fmt.Errorf("path checker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Component{
		config:    config,
		completer: completer,
		paths:     paths,
		logger:    logger.With("stage", workflow.StageArchitect),
	}, nil
}

// Name implements workflow.Stage.
func (c *Component) Name() string {
	return workflow.StageArchitect
}

// Run implements workflow.Stage. A missing plan is a configuration error; an
// extraction failure, an empty step list or an unsafe path are fatal stage
// errors.
func (c *Component) Run(ctx context.Context, state workflow.State) (workflow.Update, error) {
	if state.Plan == nil {
		return workflow.Update{}, &workflow.ConfigurationError{Stage: c.Name(), Err: workflow.ErrPlanMissing}
	}
	if state.TaskPlan != nil {
		return workflow.Update{}, &workflow.ConfigurationError{Stage: c.Name(), Err: workflow.ErrTaskPlanSet}
	}

	c.logger.Info("Generating task plan", "run_id", state.RunID, "plan", state.Plan.Name)

	temperature := c.config.Temperature
	var taskPlan workflow.TaskPlan
	err := llm.Extract(ctx, c.completer, llm.ExtractRequest{
		Capability:  c.config.Capability,
		System:      prompts.ArchitectSystemPrompt(),
		Prompt:      prompts.ArchitectPrompt(state.Plan),
		Temperature: &temperature,
		MaxTokens:   c.config.MaxTokens,
	}, &taskPlan)
	if err != nil {
		return c.fail(state, err)
	}

	if len(taskPlan.ImplementationSteps) == 0 {
		return c.fail(state, workflow.ErrEmptyTaskList)
	}

	steps := make([]workflow.ImplementationTask, len(taskPlan.ImplementationSteps))
	for i, step := range taskPlan.ImplementationSteps {
		clean, err := c.paths.Check(step.Filepath)
		if err != nil {
			return c.fail(state, fmt.Errorf("implementation_steps[%d]: %w", i, err))
		}
		steps[i] = workflow.ImplementationTask{Filepath: clean, TaskDescription: step.TaskDescription}
	}
	taskPlan.ImplementationSteps = steps
	taskPlan.Plan = state.Plan

	c.taskPlansGenerated.Add(1)
	c.logger.Info("Task plan generated",
		"run_id", state.RunID,
		"steps", len(steps),
		"extra_fields", len(taskPlan.Extra))

	return workflow.Update{TaskPlan: &taskPlan}, nil
}

func (c *Component) fail(state workflow.State, err error) (workflow.Update, error) {
	c.generationsFailed.Add(1)
	c.logger.Error("Task plan generation failed", "run_id", state.RunID, "error", err)
	return workflow.Update{}, workflow.NewStageError(c.Name(), false, err)
}

// Stats reports how many task plans were generated and how many attempts failed.
func (c *Component) Stats() (generated, failed int64) {
	return c.taskPlansGenerated.Load(), c.generationsFailed.Load()
}
