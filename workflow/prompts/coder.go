package prompts

import (
	"fmt"
	"strings"

	"github.com/c360studio/appforge/workflow"
)

// EmptyFileLabel stands in for the existing content of a file that does not
// exist yet.
const EmptyFileLabel = "(empty file)"

// CoderSystemPrompt returns the fixed system prompt for the coder stage.
func CoderSystemPrompt() string {
	return `You are a code generator. You write the complete content of exactly one file.

## Rules

- Output ONLY the raw file content
- No explanations, no commentary, no markdown code fences
- The file must be complete and self-contained; never leave placeholders or
  "rest of code here" markers
- Include every import, markup element and style rule the file needs
- When existing content is given, return the full updated file, not a diff`
}

// CoderPrompt returns the user prompt for one implementation task.
func CoderPrompt(task workflow.ImplementationTask, existing string) string {
	if strings.TrimSpace(existing) == "" {
		existing = EmptyFileLabel
	}

	return fmt.Sprintf(`## Task

%s

## Target File

%s

## Existing Content

%s`, task.TaskDescription, task.Filepath, existing)
}
