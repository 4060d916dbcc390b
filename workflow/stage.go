package workflow

import "context"

// Stage names. They double as graph node names and model roles.
const (
	StagePlan      = "plan"
	StageArchitect = "architect"
	StageCoder     = "coder"
)

// Stage is one transition of the workflow. Run reads the state and returns the
// changes to make; it never mutates its argument.
type Stage interface {
	Name() string
	Run(ctx context.Context, state State) (Update, error)
}
