package driver_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/appforge/llm"
	"github.com/c360studio/appforge/llm/testutil"
	"github.com/c360studio/appforge/processor/architect"
	"github.com/c360studio/appforge/processor/coder"
	"github.com/c360studio/appforge/processor/planner"
	"github.com/c360studio/appforge/tools/file"
	"github.com/c360studio/appforge/workflow"
	"github.com/c360studio/appforge/workflow/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calculatorPlan = `Here is the plan:
` + "```json" + `
{
  "name": "Simple Calculator",
  "description": "A calculator web application for basic arithmetic",
  "techstack": "javascript, html, css",
  "features": ["addition", "subtraction", "multiplication", "division", "clear"],
  "files": [
    {"path": "index.html", "purpose": "main page"},
    {"path": "script.js", "purpose": "calculator logic"},
    {"path": "style.css", "purpose": "styles"}
  ]
}
` + "```"

const calculatorTasks = `{
  "implementation_steps": [
    {"filepath": "index.html", "task_description": "Create the markup with a #display and .btn buttons"},
    {"filepath": "script.js", "task_description": "Wire the .btn buttons to update #display"},
    {"filepath": "style.css", "task_description": "Style the calculator grid"}
  ]
}`

var calculatorFiles = map[string]string{
	"index.html": `<div id="display"></div><button class="btn">1</button>`,
	"script.js":  `document.querySelectorAll(".btn").forEach(b => b.onclick = () => {});`,
	"style.css":  `.btn { width: 3em; }`,
}

func calculatorResponses() []*llm.Response {
	return []*llm.Response{
		{Content: calculatorPlan},
		{Content: calculatorTasks},
		{Content: calculatorFiles["index.html"]},
		{Content: calculatorFiles["script.js"]},
		{Content: calculatorFiles["style.css"]},
	}
}

type memStore struct {
	mu    sync.Mutex
	saved []workflow.State
	err   error
}

func (m *memStore) Save(_ context.Context, s workflow.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, s)
	return nil
}

func (m *memStore) last() workflow.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[len(m.saved)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e workflow.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, len(p.events))
	for i, e := range p.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type stageRecorder struct {
	mu       sync.Mutex
	observed map[string]int
	failures map[string]int
}

func newStageRecorder() *stageRecorder {
	return &stageRecorder{observed: map[string]int{}, failures: map[string]int{}}
}

func (r *stageRecorder) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed[stage]++
}

func (r *stageRecorder) RecordStageFailure(stage string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[stage]++
}

type fixture struct {
	mock      *testutil.MockLLMClient
	files     *file.Store
	store     *memStore
	publisher *recordingPublisher
	recorder  *stageRecorder
	runner    *driver.Runner
}

func newFixture(t *testing.T, mock *testutil.MockLLMClient, opts ...driver.Option) *fixture {
	t.Helper()
	files, err := file.NewStore(t.TempDir())
	require.NoError(t, err)

	p, err := planner.New(planner.DefaultConfig(), mock, nil)
	require.NoError(t, err)
	a, err := architect.New(architect.DefaultConfig(), mock, files, nil)
	require.NoError(t, err)
	c, err := coder.New(coder.DefaultConfig(), coder.NewGenerator(coder.DefaultConfig(), mock), files, nil)
	require.NoError(t, err)

	g, err := driver.DefaultGraph(p, a, c)
	require.NoError(t, err)

	f := &fixture{
		mock:      mock,
		files:     files,
		store:     &memStore{},
		publisher: &recordingPublisher{},
		recorder:  newStageRecorder(),
	}
	opts = append([]driver.Option{
		driver.WithStore(f.store),
		driver.WithPublisher(f.publisher),
		driver.WithRecorder(f.recorder),
	}, opts...)
	f.runner, err = driver.NewRunner(g, opts...)
	require.NoError(t, err)
	return f
}

func newState(t *testing.T) workflow.State {
	t.Helper()
	s, err := workflow.NewState("create a simple calculator web application")
	require.NoError(t, err)
	return s
}

func TestCalculatorEndToEnd(t *testing.T) {
	f := newFixture(t, &testutil.MockLLMClient{Responses: calculatorResponses()})

	final, err := f.runner.Run(context.Background(), newState(t))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusDone, final.Status)
	assert.Equal(t, 3, final.CoderCursor)
	assert.Equal(t, "Simple Calculator", final.Plan.Name)
	require.Equal(t, 3, final.Steps())
	assert.Same(t, final.Plan, final.TaskPlan.Plan)
	assert.Equal(t, 5, f.mock.GetCallCount())

	for path, want := range calculatorFiles {
		got, err := os.ReadFile(filepath.Join(f.files.Root(), path))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	// Checkpoints: initial, plan, architect, then RUNNING(1), RUNNING(2), DONE.
	require.Len(t, f.store.saved, 6)
	cursors := make([]int, 0, 3)
	statuses := make([]workflow.Status, 0, 3)
	for _, s := range f.store.saved[3:] {
		cursors = append(cursors, s.CoderCursor)
		statuses = append(statuses, s.Status)
	}
	assert.Equal(t, []int{1, 2, 3}, cursors)
	assert.Equal(t, []workflow.Status{workflow.StatusRunning, workflow.StatusRunning, workflow.StatusDone}, statuses)
	assert.Equal(t, final, f.store.last())

	assert.Len(t, final.History, 5)
	assert.Equal(t, workflow.StageCoder, final.History[4].Stage)
	assert.Equal(t, 2, final.History[4].TaskIndex)
	assert.Equal(t, "style.css", final.History[4].Path)
	assert.Empty(t, final.LastError)

	assert.Equal(t, []string{
		workflow.EventRunStarted,
		workflow.EventStageCompleted,
		workflow.EventStageCompleted,
		workflow.EventTaskCompleted, workflow.EventStageCompleted,
		workflow.EventTaskCompleted, workflow.EventStageCompleted,
		workflow.EventTaskCompleted, workflow.EventStageCompleted,
		workflow.EventRunCompleted,
	}, f.publisher.kinds())

	assert.Equal(t, 1, f.recorder.observed[workflow.StagePlan])
	assert.Equal(t, 1, f.recorder.observed[workflow.StageArchitect])
	assert.Equal(t, 3, f.recorder.observed[workflow.StageCoder])
	assert.Empty(t, f.recorder.failures)

	assert.Equal(t, map[string]driver.StageStats{
		workflow.StagePlan:      {Succeeded: 1},
		workflow.StageArchitect: {Succeeded: 1},
		workflow.StageCoder:     {Succeeded: 3},
	}, f.runner.Stats())
}

func TestResumeFromCursor(t *testing.T) {
	// Complete a run once to capture the state at cursor 1.
	first := newFixture(t, &testutil.MockLLMClient{Responses: calculatorResponses()})
	_, err := first.runner.Run(context.Background(), newState(t))
	require.NoError(t, err)
	atOne := first.store.saved[3]
	require.Equal(t, 1, atOne.CoderCursor)

	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: calculatorFiles["script.js"]},
		{Content: calculatorFiles["style.css"]},
	}}
	f := newFixture(t, mock)

	final, err := f.runner.Resume(context.Background(), atOne)
	require.NoError(t, err)
	assert.True(t, final.Done())
	assert.Equal(t, 3, final.CoderCursor)
	assert.Equal(t, 2, mock.GetCallCount())

	for _, req := range mock.Requests() {
		assert.NotContains(t, req.Messages[len(req.Messages)-1].Content, "index.html\n")
	}
	_, err = os.Stat(filepath.Join(f.files.Root(), "index.html"))
	assert.True(t, os.IsNotExist(err), "completed tasks are not re-run")
	for _, path := range []string{"script.js", "style.css"} {
		got, err := os.ReadFile(filepath.Join(f.files.Root(), path))
		require.NoError(t, err)
		assert.Equal(t, calculatorFiles[path], string(got))
	}
}

func TestResumeStartNode(t *testing.T) {
	s := newState(t)
	assert.Equal(t, workflow.StagePlan, driver.StartNode(s))

	s.Plan = &workflow.Plan{Name: "x", Description: "x", Techstack: "x"}
	assert.Equal(t, workflow.StageArchitect, driver.StartNode(s))

	s.TaskPlan = &workflow.TaskPlan{ImplementationSteps: []workflow.ImplementationTask{{Filepath: "a", TaskDescription: "a"}}}
	assert.Equal(t, workflow.StageCoder, driver.StartNode(s))

	s.CoderCursor = 1
	s.Status = workflow.StatusDone
	assert.Equal(t, driver.End, driver.StartNode(s))
}

func TestResumeDoneRunIsNoop(t *testing.T) {
	first := newFixture(t, &testutil.MockLLMClient{Responses: calculatorResponses()})
	done, err := first.runner.Run(context.Background(), newState(t))
	require.NoError(t, err)

	mock := &testutil.MockLLMClient{}
	f := newFixture(t, mock)
	final, err := f.runner.Resume(context.Background(), done)
	require.NoError(t, err)
	assert.Equal(t, done, final)
	assert.Zero(t, mock.GetCallCount())
	assert.Empty(t, f.store.saved)
}

func TestResumeRejectsInvalidSnapshot(t *testing.T) {
	f := newFixture(t, &testutil.MockLLMClient{})
	s := newState(t)
	s.CoderCursor = 4

	_, err := f.runner.Resume(context.Background(), s)
	assert.ErrorIs(t, err, workflow.ErrCursorRange)
}

func TestRetryableCoderFailureIsRetried(t *testing.T) {
	responses := calculatorResponses()
	mock := &testutil.MockLLMClient{
		// Call 3 (script.js) fails once; call 4 answers it.
		Responses: append(responses[:3:3], &llm.Response{}, responses[3], responses[4]),
		Errs:      []error{nil, nil, nil, llm.NewTransientError(errors.New("503 service unavailable"))},
	}
	f := newFixture(t, mock, driver.WithTaskRetries(2, 0))

	final, err := f.runner.Run(context.Background(), newState(t))
	require.NoError(t, err)
	assert.True(t, final.Done())
	assert.Equal(t, 6, mock.GetCallCount())
	assert.Equal(t, 1, f.recorder.failures[workflow.StageCoder])

	got, err := os.ReadFile(filepath.Join(f.files.Root(), "script.js"))
	require.NoError(t, err)
	assert.Equal(t, calculatorFiles["script.js"], string(got))
}

func TestRetriesExhausted(t *testing.T) {
	transient := llm.NewTransientError(errors.New("503 service unavailable"))
	mock := &testutil.MockLLMClient{
		Responses: calculatorResponses()[:3],
		Errs:      []error{nil, nil, nil, transient, transient},
	}
	f := newFixture(t, mock, driver.WithTaskRetries(1, 0))

	final, err := f.runner.Run(context.Background(), newState(t))
	require.Error(t, err)

	var stageErr *workflow.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, workflow.StageCoder, stageErr.Stage)
	assert.Equal(t, 1, stageErr.TaskIndex)
	assert.Equal(t, "script.js", stageErr.Path)
	assert.True(t, stageErr.Retryable)

	assert.Equal(t, 1, final.CoderCursor)
	assert.Equal(t, workflow.StatusRunning, final.Status)
	assert.NotEmpty(t, final.LastError)
	assert.Equal(t, final, f.store.last(), "failed state is persisted")
	assert.Equal(t, 5, mock.GetCallCount())
	assert.Equal(t, driver.StageStats{Succeeded: 1, Failed: 2}, f.runner.Stats()[workflow.StageCoder])

	kinds := f.publisher.kinds()
	assert.Equal(t, []string{workflow.EventTaskFailed, workflow.EventRunFailed}, kinds[len(kinds)-2:])
}

func TestFatalCoderFailureIsNotRetried(t *testing.T) {
	mock := &testutil.MockLLMClient{
		Responses: calculatorResponses()[:3],
		Errs:      []error{nil, nil, nil, llm.NewFatalError(errors.New("401 unauthorized"))},
	}
	f := newFixture(t, mock, driver.WithTaskRetries(3, 0))

	final, err := f.runner.Run(context.Background(), newState(t))
	require.Error(t, err)
	assert.False(t, workflow.IsRetryable(err))
	assert.Equal(t, 4, mock.GetCallCount())
	assert.Equal(t, 1, final.CoderCursor)
}

func TestExtractionFailureHaltsRun(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: "I cannot help with that."}}}
	f := newFixture(t, mock, driver.WithTaskRetries(3, 0))

	final, err := f.runner.Run(context.Background(), newState(t))
	require.Error(t, err)
	assert.True(t, llm.IsExtractionError(err))
	assert.Nil(t, final.Plan)
	assert.Equal(t, 1, mock.GetCallCount())
	assert.Equal(t, workflow.StagePlan, final.History[0].Stage)
	assert.Equal(t, workflow.OutcomeFailed, final.History[0].Outcome)
}

func TestCheckpointFailureStopsRun(t *testing.T) {
	f := newFixture(t, &testutil.MockLLMClient{Responses: calculatorResponses()})
	f.store.err = errors.New("disk full")

	_, err := f.runner.Run(context.Background(), newState(t))
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, f.mock.GetCallCount())
}

func TestCancelledBetweenTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := &testutil.MockLLMClient{Responses: calculatorResponses()}

	// Cancel as soon as the first file is checkpointed.
	store := &cancellingStore{memStore: &memStore{}, cancel: cancel, atCursor: 1}
	f := newFixture(t, mock, driver.WithStore(store))

	final, err := f.runner.Run(ctx, newState(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, final.CoderCursor)
	assert.Equal(t, 3, mock.GetCallCount())
	assert.Equal(t, final, store.last())
}

type cancellingStore struct {
	*memStore
	cancel   context.CancelFunc
	atCursor int
}

func (c *cancellingStore) Save(ctx context.Context, s workflow.State) error {
	if err := c.memStore.Save(ctx, s); err != nil {
		return err
	}
	if s.CoderCursor == c.atCursor {
		c.cancel()
	}
	return nil
}
