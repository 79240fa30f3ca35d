// Package brief builds the markdown brief a host receives when an assigned
// task is dispatched to it.
package brief

import (
	"fmt"
	"strings"

	"github.com/imkarma/drover/internal/store"
)

// Builder renders briefs. Dependencies are looked up in the snapshot the run
// is working on.
type Builder struct {
	snap *store.Snapshot
}

// New creates a brief builder.
func New(snap *store.Snapshot) *Builder {
	return &Builder{snap: snap}
}

// Build renders the brief for task on host hostID. It includes:
// 1. The assignment header
// 2. The task and its description
// 3. The state of the task's dependencies
// 4. Earlier notes and decisions
// 5. Reporting instructions
func (b *Builder) Build(task store.Task, hostID string) string {
	var parts []string

	parts = append(parts, header(task, hostID))
	parts = append(parts, taskSection(task))

	if deps := b.dependencies(task); deps != "" {
		parts = append(parts, deps)
	}
	if hist := history(task); hist != "" {
		parts = append(parts, hist)
	}

	parts = append(parts, instructions)

	return strings.Join(parts, "\n\n")
}

func header(task store.Task, hostID string) string {
	return fmt.Sprintf("# Automated task %s\nAssigned to host %s by drover. Work in the current checkout.", task.ID, hostID)
}

func taskSection(task store.Task) string {
	var sb strings.Builder

	sb.WriteString("## Task\n")
	sb.WriteString(fmt.Sprintf("**%s: %s**\n", task.ID, task.Name))
	if task.Priority != "" {
		sb.WriteString(fmt.Sprintf("Priority: %s\n", task.Priority))
	}
	if len(task.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(task.Tags, ", ")))
	}
	if task.EstimatedHours != nil {
		sb.WriteString(fmt.Sprintf("Estimate: %.1fh\n", *task.EstimatedHours))
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n### Description\n%s\n", task.Description))
	}

	return sb.String()
}

func (b *Builder) dependencies(task store.Task) string {
	if len(task.Dependencies) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Dependencies\n")
	for _, id := range task.Dependencies {
		dep, ok := store.Task{}, false
		if b.snap != nil {
			dep, ok = b.snap.Task(id)
		}
		if !ok {
			sb.WriteString(fmt.Sprintf("- %s (unknown)\n", id))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: %s [%s]\n", dep.ID, dep.Name, dep.Status.Normalize()))
	}
	return sb.String()
}

func history(task store.Task) string {
	if len(task.Comments) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## History\n")
	sb.WriteString("Earlier notes on this task:\n\n")
	for _, c := range task.Comments {
		sb.WriteString(fmt.Sprintf("- **[%s]** %s\n", c.Type, c.Content))
	}
	return sb.String()
}

const instructions = `## Instructions
- Complete the task in this checkout and commit your work
- If you're unsure about something, state it clearly rather than guessing
- If you need a decision from a person, print: BLOCKED: [your question]
- Focus on the specific task, don't refactor unrelated code`
