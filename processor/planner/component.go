// Package planner implements the plan stage: it turns the user's request into
// a structured project Plan.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/c360studio/appforge/llm"
	"github.com/c360studio/appforge/workflow"
	"github.com/c360studio/appforge/workflow/prompts"
)

// Component is the plan stage.
type Component struct {
	config    Config
	completer llm.Completer
	logger    *slog.Logger

	plansGenerated    atomic.Int64
	generationsFailed atomic.Int64
}

// New returns a plan stage that extracts plans through completer.
func New(config Config, completer llm.Completer, logger *slog.Logger) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Component{
		config:    config,
		completer: completer,
		logger:    logger.With("stage", workflow.StagePlan),
	}, nil
}

// Name implements workflow.Stage.
func (c *Component) Name() string {
	return workflow.StagePlan
}

// Run implements workflow.Stage. Any extraction failure is fatal: without a
// plan nothing downstream can run.
func (c *Component) Run(ctx context.Context, state workflow.State) (workflow.Update, error) {
	if state.Plan != nil {
		return workflow.Update{}, &workflow.ConfigurationError{Stage: c.Name(), Err: workflow.ErrPlanAlreadySet}
	}
	if strings.TrimSpace(state.UserPrompt) == "" {
		return workflow.Update{}, &workflow.ConfigurationError{Stage: c.Name(), Err: workflow.ErrPromptRequired}
	}

	c.logger.Info("Generating plan", "run_id", state.RunID)

	temperature := c.config.Temperature
	var plan workflow.Plan
	err := llm.Extract(ctx, c.completer, llm.ExtractRequest{
		Capability:  c.config.Capability,
		System:      prompts.PlannerSystemPrompt(),
		Prompt:      prompts.PlannerPrompt(state.UserPrompt),
		Temperature: &temperature,
		MaxTokens:   c.config.MaxTokens,
	}, &plan)
	if err != nil {
		c.generationsFailed.Add(1)
		c.logger.Error("Plan generation failed", "run_id", state.RunID, "error", err)
		return workflow.Update{}, workflow.NewStageError(c.Name(), false, err)
	}

	c.plansGenerated.Add(1)
	c.logger.Info("Plan generated",
		"run_id", state.RunID,
		"name", plan.Name,
		"files", len(plan.Files),
		"features", len(plan.Features))

	return workflow.Update{Plan: &plan}, nil
}

// Stats reports how many plans were generated and how many attempts failed.
func (c *Component) Stats() (generated, failed int64) {
	return c.plansGenerated.Load(), c.generationsFailed.Load()
}
