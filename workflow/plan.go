// Package workflow defines the records threaded through a generation run: the
// project Plan, the TaskPlan queue and the State that carries them between
// stages.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// File is one target file named by a Plan.
type File struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// Plan describes the project to build. It is produced once by the plan stage
// and never modified afterwards.
type Plan struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Techstack   string   `json:"techstack"`
	Features    []string `json:"features"`
	Files       []File   `json:"files"`
}

// SchemaName implements llm.Schema.
func (p *Plan) SchemaName() string { return "Plan" }

// FormatInstructions implements llm.Schema.
func (p *Plan) FormatInstructions() string {
	return `Return ONLY a JSON object in this exact shape:

` + "```json" + `
{
  "name": "short name of the app",
  "description": "one line description of the app",
  "techstack": "languages and frameworks, e.g. \"javascript, html, css\"",
  "features": ["feature one", "feature two"],
  "files": [
    {"path": "relative/path/to/file.ext", "purpose": "what this file is for"}
  ]
}
` + "```" + `

All fields are required; features and files may be empty lists. File paths are relative to the project root.`
}

// Validate implements llm.Schema.
func (p *Plan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(p.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}
	if strings.TrimSpace(p.Techstack) == "" {
		errs = append(errs, errors.New("techstack is required"))
	}
	// A missing key decodes to nil, an explicit [] does not.
	if p.Features == nil {
		errs = append(errs, errors.New("features is required"))
	}
	if p.Files == nil {
		errs = append(errs, errors.New("files is required"))
	}
	for i, f := range p.Files {
		if _, err := CleanPath(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("files[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// FilePaths returns the target paths in plan order.
func (p *Plan) FilePaths() []string {
	paths := make([]string, len(p.Files))
	for i, f := range p.Files {
		paths[i] = f.Path
	}
	return paths
}
