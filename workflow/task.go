package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ImplementationTask asks for the content of one file.
type ImplementationTask struct {
	Filepath        string `json:"filepath"`
	TaskDescription string `json:"task_description"`
}

// TaskPlan is the ordered queue of tasks. Order is execution order: later
// tasks may depend on files written by earlier ones.
type TaskPlan struct {
	ImplementationSteps []ImplementationTask

	// Plan is the plan the steps were derived from.
	Plan *Plan

	// Extra holds fields the model returned that TaskPlan does not know
	// about. They are kept verbatim and written back on encode.
	Extra map[string]json.RawMessage
}

const (
	stepsKey = "implementation_steps"
	planKey  = "plan"
)

// MarshalJSON writes the known fields and every preserved extra field.
func (tp TaskPlan) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(tp.Extra)+2)
	for k, v := range tp.Extra {
		out[k] = v
	}

	steps := tp.ImplementationSteps
	if steps == nil {
		steps = []ImplementationTask{}
	}
	out[stepsKey] = steps
	if tp.Plan != nil {
		out[planKey] = tp.Plan
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known fields and keeps unknown ones in Extra.
func (tp *TaskPlan) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var decoded TaskPlan
	if raw, ok := fields[stepsKey]; ok {
		if err := json.Unmarshal(raw, &decoded.ImplementationSteps); err != nil {
			return fmt.Errorf("%s: %w", stepsKey, err)
		}
		delete(fields, stepsKey)
	}
	if raw, ok := fields[planKey]; ok {
		if string(raw) != "null" {
			decoded.Plan = &Plan{}
			if err := json.Unmarshal(raw, decoded.Plan); err != nil {
				return fmt.Errorf("%s: %w", planKey, err)
			}
		}
		delete(fields, planKey)
	}
	if len(fields) > 0 {
		decoded.Extra = fields
	}

	*tp = decoded
	return nil
}

// SchemaName implements llm.Schema.
func (tp *TaskPlan) SchemaName() string { return "TaskPlan" }

// FormatInstructions implements llm.Schema.
func (tp *TaskPlan) FormatInstructions() string {
	return `Return ONLY a JSON object in this exact shape:

` + "```json" + `
{
  "implementation_steps": [
    {
      "filepath": "relative/path/to/file.ext",
      "task_description": "what to implement in this file: names, functions, dependencies and how it integrates with the other files"
    }
  ]
}
` + "```" + `

List the steps in the order they must be executed. Every filepath is relative to the project root.`
}

// Validate implements llm.Schema. It checks each step's required fields; an
// empty list is a valid record and is rejected by the architect stage instead.
func (tp *TaskPlan) Validate() error {
	if tp.ImplementationSteps == nil {
		return errors.New("implementation_steps is required")
	}

	var errs []error
	for i, step := range tp.ImplementationSteps {
		if strings.TrimSpace(step.Filepath) == "" {
			errs = append(errs, fmt.Errorf("implementation_steps[%d]: filepath is required", i))
		}
		if strings.TrimSpace(step.TaskDescription) == "" {
			errs = append(errs, fmt.Errorf("implementation_steps[%d]: task_description is required", i))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of steps.
func (tp *TaskPlan) Len() int {
	if tp == nil {
		return 0
	}
	return len(tp.ImplementationSteps)
}
