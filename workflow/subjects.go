package workflow

import "time"

// SubjectPrefix is the NATS subject root for run lifecycle events.
const SubjectPrefix = "appforge.events"

// Event kinds, published on SubjectPrefix + "." + kind.
const (
	EventRunStarted     = "run.started"
	EventStageCompleted = "stage.completed"
	EventTaskCompleted  = "task.completed"
	EventTaskFailed     = "task.failed"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
)

// Subject returns the full subject for an event kind.
func Subject(kind string) string {
	return SubjectPrefix + "." + kind
}

// Event is the JSON payload of every lifecycle event. Fields that do not apply
// to a kind are omitted.
type Event struct {
	Kind      string    `json:"kind"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage,omitempty"`
	TaskIndex *int      `json:"task_index,omitempty"`
	Path      string    `json:"path,omitempty"`
	Cursor    int       `json:"cursor"`
	Steps     int       `json:"steps"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event of kind for s.
func NewEvent(kind string, s State) Event {
	return Event{
		Kind:      kind,
		RunID:     s.RunID,
		Cursor:    s.CoderCursor,
		Steps:     s.Steps(),
		Status:    s.Status,
		Timestamp: time.Now().UTC(),
	}
}

// WithTask returns e annotated with a coder task.
func (e Event) WithTask(index int, path string) Event {
	e.TaskIndex = &index
	e.Path = path
	return e
}
