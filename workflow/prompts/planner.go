// Package prompts builds the text sent to the model by each stage.
package prompts

import "fmt"

// PlannerSystemPrompt returns the system prompt for the plan stage.
func PlannerSystemPrompt() string {
	return `You are a software architect planning a small, self-contained project.

## Your Objective

Turn a one-line request into a concrete project plan that a code generator can
build file by file.

## Field Semantics

- name: a short human-readable name for the project
- description: one sentence saying what the project does
- techstack: the languages and frameworks to use, comma separated
- features: the user-visible capabilities, most important first
- files: every file the project needs, each with a relative path and a short
  statement of its purpose

## Guidelines

- Prefer the smallest tech stack that satisfies the request
- Every file must be needed; do not list build output or lock files
- Paths are relative to the project root and never start with "/" or ".."`
}

// PlannerPrompt returns the user prompt for the plan stage.
func PlannerPrompt(request string) string {
	return fmt.Sprintf(`Plan the following project.

**Request:** %s`, request)
}
