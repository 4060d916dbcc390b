package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360studio/appforge/workflow"
)

// ErrNoProgress means a node that routes back to itself returned an empty
// update, which would loop forever.
var ErrNoProgress = errors.New("stage made no progress")

// StateStore checkpoints a run after every stage. storage.FileStore and
// storage.KVStore implement it.
type StateStore interface {
	Save(ctx context.Context, s workflow.State) error
}

// Publisher emits lifecycle events. events.NATSPublisher implements it.
type Publisher interface {
	Publish(ctx context.Context, e workflow.Event) error
}

// Recorder observes stage executions. metrics.Metrics implements it.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	RecordStageFailure(stage string, retryable bool)
}

// Runner drives a State through a Graph. It keeps no run state of its own.
type Runner struct {
	graph       *Graph
	store       StateStore
	publisher   Publisher
	recorder    Recorder
	logger      *slog.Logger
	taskRetries int
	retryDelay  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore checkpoints every successful stage to s.
func WithStore(s StateStore) Option {
	return func(r *Runner) {
		r.store = s
	}
}

// WithPublisher publishes lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) {
		r.publisher = p
	}
}

// WithRecorder reports stage durations and failures to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTaskRetries re-dispatches a retryable stage failure up to n times for
// the same state, waiting delay between attempts.
func WithTaskRetries(n int, delay time.Duration) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.taskRetries = n
		}
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

// NewRunner returns a Runner over a validated graph.
func NewRunner(graph *Graph, opts ...Option) (*Runner, error) {
	if graph == nil {
		return nil, errors.New("graph is required")
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	r := &Runner{
		graph:  graph,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run starts a fresh run at the graph's entry node and returns the final
// state. On failure the returned state is the last good one, annotated with
// the failure in History and LastError.
func (r *Runner) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	if err := s.Validate(); err != nil {
		return s, err
	}
	if err := r.checkpoint(ctx, s); err != nil {
		return s, err
	}
	r.publish(ctx, workflow.NewEvent(workflow.EventRunStarted, s))
	r.logger.Info("Run started", "run_id", s.RunID)
	return r.execute(ctx, s, r.graph.Entry())
}

// Resume continues a persisted run from the first stage whose output is
// missing. A DONE run is returned unchanged.
func (r *Runner) Resume(ctx context.Context, s workflow.State) (workflow.State, error) {
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid snapshot: %w", err)
	}
	start := StartNode(s)
	if start == End {
		r.logger.Info("Run already complete", "run_id", s.RunID)
		return s, nil
	}
	if _, ok := r.graph.Node(start); !ok {
		return s, fmt.Errorf("resume: graph has no %q node", start)
	}
	r.logger.Info("Resuming run",
		"run_id", s.RunID,
		"stage", start,
		"cursor", s.CoderCursor,
		"steps", s.Steps())
	return r.execute(ctx, s, start)
}

func (r *Runner) execute(ctx context.Context, s workflow.State, node string) (workflow.State, error) {
	for node != End {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		stage, _ := r.graph.Node(node)
		task, hasTask := s.CurrentTask()
		index := s.CoderCursor

		started := time.Now()
		update, err := r.dispatch(ctx, stage, s)
		elapsed := time.Since(started)
		if r.recorder != nil {
			r.recorder.ObserveStage(node, elapsed)
		}
		if err != nil {
			return r.failed(ctx, s, node, err)
		}

		next, err := s.Apply(update)
		if err != nil {
			return r.failed(ctx, s, node, &workflow.ConfigurationError{Stage: node, Err: err})
		}

		to, err := r.graph.Next(node, next)
		if err != nil {
			return s, err
		}
		if to == node && update.IsZero() {
			return r.failed(ctx, s, node, workflow.NewStageError(node, false, ErrNoProgress))
		}

		rec := workflow.StageRecord{Stage: node, TaskIndex: -1, Outcome: workflow.OutcomeOK, At: time.Now().UTC()}
		coderTurn := node == workflow.StageCoder && hasTask && update.Cursor != nil
		if coderTurn {
			rec.TaskIndex = index
			rec.Path = task.Filepath
		}
		s = next.Record(rec)

		if err := r.checkpoint(ctx, s); err != nil {
			return s, err
		}

		r.logger.Debug("Stage completed",
			"run_id", s.RunID,
			"stage", node,
			"cursor", s.CoderCursor,
			"steps", s.Steps(),
			"duration", elapsed)
		if coderTurn {
			r.publish(ctx, workflow.NewEvent(workflow.EventTaskCompleted, s).WithTask(index, task.Filepath))
		}
		completed := workflow.NewEvent(workflow.EventStageCompleted, s)
		completed.Stage = node
		r.publish(ctx, completed)

		node = to
	}

	r.logger.Info("Run completed", "run_id", s.RunID, "files", s.Steps())
	r.logSummary(s)
	r.publish(ctx, workflow.NewEvent(workflow.EventRunCompleted, s))
	return s, nil
}

// StatsReporter is implemented by stages that count their own outcomes.
type StatsReporter interface {
	Stats() (succeeded, failed int64)
}

// StageStats counts one stage's outcomes since it was built.
type StageStats struct {
	Succeeded int64
	Failed    int64
}

// Stats returns the counters of every node that reports them.
func (r *Runner) Stats() map[string]StageStats {
	stats := make(map[string]StageStats)
	for name, stage := range r.graph.nodes {
		if sr, ok := stage.(StatsReporter); ok {
			succeeded, failed := sr.Stats()
			stats[name] = StageStats{Succeeded: succeeded, Failed: failed}
		}
	}
	return stats
}

// logSummary logs per-stage counters at the end of a run.
func (r *Runner) logSummary(s workflow.State) {
	stats := r.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	args := []any{"run_id", s.RunID, "cursor", s.CoderCursor, "steps", s.Steps()}
	for _, name := range names {
		args = append(args, slog.Group(name,
			"succeeded", stats[name].Succeeded,
			"failed", stats[name].Failed))
	}
	r.logger.Info("Run summary", args...)
}

// dispatch runs stage, re-running retryable failures on the same state.
func (r *Runner) dispatch(ctx context.Context, stage workflow.Stage, s workflow.State) (workflow.Update, error) {
	var lastErr error
	for attempt := 0; attempt <= r.taskRetries; attempt++ {
		if attempt > 0 {
			if r.recorder != nil {
				r.recorder.RecordStageFailure(stage.Name(), true)
			}
			r.logger.Warn("Retrying stage",
				"run_id", s.RunID,
				"stage", stage.Name(),
				"cursor", s.CoderCursor,
				"attempt", attempt,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return workflow.Update{}, lastErr
			case <-time.After(r.retryDelay):
			}
		}

		update, err := stage.Run(ctx, s)
		if err == nil {
			return update, nil
		}
		lastErr = err
		if !workflow.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return workflow.Update{}, lastErr
}

// failed records err on s, checkpoints it and returns it with err.
func (r *Runner) failed(ctx context.Context, s workflow.State, node string, err error) (workflow.State, error) {
	retryable := workflow.IsRetryable(err)
	if r.recorder != nil {
		r.recorder.RecordStageFailure(node, retryable)
	}

	rec := workflow.StageRecord{
		Stage:     node,
		TaskIndex: -1,
		Outcome:   workflow.OutcomeFailed,
		Error:     err.Error(),
		At:        time.Now().UTC(),
	}
	var stageErr *workflow.StageError
	if errors.As(err, &stageErr) {
		rec.TaskIndex = stageErr.TaskIndex
		rec.Path = stageErr.Path
	}
	s = s.Record(rec)

	r.logger.Error("Stage failed",
		"run_id", s.RunID,
		"stage", node,
		"cursor", s.CoderCursor,
		"retryable", retryable,
		"error", err)

	if saveErr := r.checkpoint(context.WithoutCancel(ctx), s); saveErr != nil {
		r.logger.Error("Failed to persist failed state", "run_id", s.RunID, "error", saveErr)
	}
	r.logSummary(s)

	if rec.Path != "" {
		failedTask := workflow.NewEvent(workflow.EventTaskFailed, s).WithTask(rec.TaskIndex, rec.Path)
		failedTask.Error = rec.Error
		failedTask.Retryable = retryable
		r.publish(ctx, failedTask)
	}
	runFailed := workflow.NewEvent(workflow.EventRunFailed, s)
	runFailed.Stage = node
	runFailed.Error = rec.Error
	runFailed.Retryable = retryable
	r.publish(ctx, runFailed)

	return s, err
}

func (r *Runner) checkpoint(ctx context.Context, s workflow.State) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(ctx, s); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", s.RunID, err)
	}
	return nil
}

// publish is best effort: a run never fails because an event was dropped.
func (r *Runner) publish(ctx context.Context, e workflow.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn("Failed to publish event", "kind", e.Kind, "run_id", e.RunID, "error", err)
	}
}
