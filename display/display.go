// Package display renders run state for the terminal.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/c360studio/appforge/workflow"
)

var (
	primaryColor   = lipgloss.Color("#5FAFAF")
	secondaryColor = lipgloss.Color("#666666")
	successColor   = lipgloss.Color("#87AF87")
	errorColor     = lipgloss.Color("#AF5F5F")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle  = lipgloss.NewStyle().Foreground(secondaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
)

// Task markers.
const (
	markDone    = "✓"
	markCurrent = "▶"
	markPending = "·"
	markFailed  = "✗"
)

// State renders a run: header, plan summary and per-task progress.
func State(s workflow.State) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Run " + s.RunID))
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(truncate(s.UserPrompt, 72)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Stage:   %s\n", stageLabel(s))
	fmt.Fprintf(&b, "Status:  %s\n", statusLabel(s))
	if s.Plan != nil {
		fmt.Fprintf(&b, "Project: %s (%s)\n", s.Plan.Name, s.Plan.Techstack)
	}
	if s.TaskPlan != nil {
		fmt.Fprintf(&b, "Files:   %d/%d\n", s.CoderCursor, s.Steps())
		b.WriteString("\n")
		b.WriteString(tasks(s))
	}
	if s.LastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Last error: " + s.LastError))
		b.WriteString("\n")
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func tasks(s workflow.State) string {
	failed := -1
	if s.LastError != "" && len(s.History) > 0 {
		last := s.History[len(s.History)-1]
		if last.Outcome == workflow.OutcomeFailed && last.Stage == workflow.StageCoder {
			failed = last.TaskIndex
		}
	}

	var b strings.Builder
	for i, t := range s.TaskPlan.ImplementationSteps {
		var line string
		switch {
		case i < s.CoderCursor:
			line = successStyle.Render(markDone + " " + t.Filepath)
		case i == failed:
			line = errorStyle.Render(markFailed + " " + t.Filepath)
		case i == s.CoderCursor:
			line = currentStyle.Render(markCurrent + " " + t.Filepath)
		default:
			line = subtleStyle.Render(markPending + " " + t.Filepath)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func stageLabel(s workflow.State) string {
	switch {
	case s.Done():
		return "complete"
	case s.Plan == nil:
		return workflow.StagePlan
	case s.TaskPlan == nil:
		return workflow.StageArchitect
	default:
		phase, err := workflow.CoderPhase(s)
		if err != nil {
			return workflow.StageCoder
		}
		return workflow.StageCoder + " " + phase.String()
	}
}

func statusLabel(s workflow.State) string {
	switch {
	case s.Done():
		return successStyle.Render(string(s.Status))
	case s.LastError != "":
		return errorStyle.Render(string(s.Status) + " (failed)")
	default:
		return string(s.Status)
	}
}

// RunList renders one line per run, newest first as given.
func RunList(runs []workflow.State) string {
	if len(runs) == 0 {
		return subtleStyle.Render("No runs found.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%-36s  %-8s  %-7s  %-16s  %s", "RUN", "STATUS", "FILES", "CREATED", "REQUEST")))
	b.WriteString("\n")
	for _, s := range runs {
		files := "-"
		if s.TaskPlan != nil {
			files = fmt.Sprintf("%d/%d", s.CoderCursor, s.Steps())
		}
		status := string(s.Status)
		if !s.Done() && s.LastError != "" {
			status = "FAILED"
		}
		line := fmt.Sprintf("%-36s  %-8s  %-7s  %-16s  %s",
			s.RunID, status, files, s.CreatedAt.Local().Format(time.DateTime[:16]), truncate(s.UserPrompt, 40))
		switch {
		case s.Done():
			line = successStyle.Render(line)
		case status == "FAILED":
			line = errorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Error renders a failure for the CLI.
func Error(err error) string {
	return errorStyle.Render("Error: " + err.Error())
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
