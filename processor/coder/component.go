// Package coder implements the coder stage. Each invocation generates and
// writes exactly one file, then advances the cursor; the driver repeats the
// stage until the cursor reaches the end of the task list.
package coder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360studio/appforge/llm"
	"github.com/c360studio/appforge/workflow"
	"github.com/c360studio/appforge/workflow/prompts"
)

// Generator produces raw text for a system + user prompt. *llm.Generator
// implements it.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// FileStore reads and writes project files. *file.Store implements it.
type FileStore interface {
	Read(ctx context.Context, path string) (content string, ok bool, err error)
	Write(ctx context.Context, path, content string) error
}

// Recorder observes completed tasks. metrics.Metrics implements it.
type Recorder interface {
	RecordTaskCompleted(bytes int)
}

// Component is the coder stage.
type Component struct {
	config    Config
	generator Generator
	files     FileStore
	recorder  Recorder
	logger    *slog.Logger

	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
}

// Option configures a Component.
type Option func(*Component)

// WithRecorder reports every completed task to r.
func WithRecorder(r Recorder) Option {
	return func(c *Component) {
		c.recorder = r
	}
}

// New returns a coder stage.
func New(config Config, generator Generator, files FileStore, logger *slog.Logger, opts ...Option) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if files == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Component{
		config:    config,
		generator: generator,
		files:     files,
		logger:    logger.With("stage", workflow.StageCoder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewGenerator builds the llm.Generator matching config.
func NewGenerator(config Config, completer llm.Completer) *llm.Generator {
	opts := []llm.GeneratorOption{
		llm.WithCapability(config.Capability),
		llm.WithTemperature(config.Temperature),
	}
	if config.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(config.MaxTokens))
	}
	return llm.NewGenerator(completer, opts...)
}

// Name implements workflow.Stage.
func (c *Component) Name() string {
	return workflow.StageCoder
}

// Run implements workflow.Stage.
//
// RUNNING(i): read steps[i].filepath, generate its content, write it, and
// advance the cursor to i+1, setting DONE in the same update when i+1 == N.
// DONE: no generation and no I/O.
//
// Cancellation is checked once on entry. A task that has started runs to
// completion so no file is left half generated.
func (c *Component) Run(ctx context.Context, state workflow.State) (workflow.Update, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Update{}, err
	}

	phase, err := workflow.CoderPhase(state)
	if err != nil {
		return workflow.Update{}, &workflow.ConfigurationError{Stage: c.Name(), Err: err}
	}
	if phase.Done {
		if state.Status == workflow.StatusDone {
			return workflow.Update{}, nil
		}
		return workflow.MarkDone(), nil
	}

	index := phase.Cursor
	task := state.TaskPlan.ImplementationSteps[index]
	taskCtx := context.WithoutCancel(ctx)
	started := time.Now()

	c.logger.Info("Generating file",
		"run_id", state.RunID,
		"task", index+1,
		"of", state.Steps(),
		"path", task.Filepath)

	existing, _, err := c.files.Read(taskCtx, task.Filepath)
	if err != nil {
		return c.fail(state, index, task, false, err)
	}

	content, err := c.generator.Generate(taskCtx, prompts.CoderSystemPrompt(), prompts.CoderPrompt(task, existing))
	if err != nil {
		return c.fail(state, index, task, !llm.IsFatal(err), err)
	}

	if c.config.RejectEmptyContent && strings.TrimSpace(content) == "" {
		return c.fail(state, index, task, true, workflow.ErrEmptyContent)
	}

	if err := c.files.Write(taskCtx, task.Filepath, content); err != nil {
		return c.fail(state, index, task, false, err)
	}

	c.tasksCompleted.Add(1)
	if c.recorder != nil {
		c.recorder.RecordTaskCompleted(len(content))
	}
	c.logger.Info("File written",
		"run_id", state.RunID,
		"path", task.Filepath,
		"bytes", len(content),
		"duration", time.Since(started))

	next := index + 1
	update := workflow.SetCursor(next)
	if next == state.Steps() {
		update.Status = workflow.MarkDone().Status
	}
	return update, nil
}

func (c *Component) fail(state workflow.State, index int, task workflow.ImplementationTask, retryable bool, err error) (workflow.Update, error) {
	c.tasksFailed.Add(1)
	c.logger.Error("Task failed",
		"run_id", state.RunID,
		"task", index+1,
		"path", task.Filepath,
		"retryable", retryable,
		"error", err)
	return workflow.Update{}, &workflow.StageError{
		Stage:     c.Name(),
		TaskIndex: index,
		Path:      task.Filepath,
		Retryable: retryable,
		Err:       err,
	}
}

// Stats reports how many tasks completed and how many attempts failed.
func (c *Component) Stats() (completed, failed int64) {
	return c.tasksCompleted.Load(), c.tasksFailed.Load()
}
