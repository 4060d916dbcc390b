package prompts

import (
	"fmt"
	"strings"

	"github.com/c360studio/appforge/workflow"
)

// ArchitectSystemPrompt returns the system prompt for the architect stage.
func ArchitectSystemPrompt() string {
	return `You are a senior engineer breaking a project plan into implementation tasks.

## Your Task

Produce one implementation task per file. Each task must:
- Name exactly one file by its relative path
- Describe what to implement in enough detail to write the file without
  seeing the others: variable, function and class names, element ids, exported
  symbols, and how the file integrates with the rest of the project
- Be ordered so that files other files depend on come first

## Guidelines

- Cover every file in the plan and nothing outside it
- Keep names consistent across tasks so the generated files fit together
- Paths are relative to the project root and never start with "/" or ".."`
}

// ArchitectPrompt renders the full plan as the architect's user prompt.
func ArchitectPrompt(plan *workflow.Plan) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Break this project plan into implementation tasks.\n\n")
	fmt.Fprintf(&sb, "## Plan: %s\n\n", plan.Name)
	fmt.Fprintf(&sb, "**Description:** %s\n\n", plan.Description)
	fmt.Fprintf(&sb, "**Tech stack:** %s\n\n", plan.Techstack)

	sb.WriteString("**Features:**\n")
	sb.WriteString(formatList(plan.Features, "(none listed)"))

	sb.WriteString("\n**Files:**\n")
	if len(plan.Files) == 0 {
		sb.WriteString("- (none listed; choose the files the project needs)\n")
	}
	for _, f := range plan.Files {
		fmt.Fprintf(&sb, "- `%s`: %s\n", f.Path, f.Purpose)
	}

	return sb.String()
}

func formatList(items []string, empty string) string {
	if len(items) == 0 {
		return "- " + empty + "\n"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- " + item + "\n")
	}
	return sb.String()
}
