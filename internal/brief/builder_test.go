package brief

import (
	"strings"
	"testing"

	"github.com/imkarma/drover/internal/store"
)

func TestBuild_BasicTask(t *testing.T) {
	task := store.Task{
		ID:          "T-1",
		Name:        "Implement retry logic",
		Description: "Retry idempotent calls with backoff",
		Priority:    "high",
		Status:      store.StatusInProgress,
	}

	brief := New(store.NewSnapshot(task)).Build(task, "build-1")

	for _, want := range []string{"T-1", "Implement retry logic", "Retry idempotent calls", "Priority: high", "build-1", "BLOCKED:"} {
		if !strings.Contains(brief, want) {
			t.Errorf("brief missing %q", want)
		}
	}
	if strings.Contains(brief, "## Dependencies") {
		t.Error("brief should not have a dependencies section")
	}
	if strings.Contains(brief, "## History") {
		t.Error("brief should not have a history section")
	}
}

func TestBuild_Dependencies(t *testing.T) {
	dep := store.Task{ID: "T-0", Name: "Add client", Status: "done"}
	task := store.Task{ID: "T-1", Name: "Implement retry", Status: store.StatusTodo, Dependencies: []string{"T-0", "T-99"}}

	brief := New(store.NewSnapshot(dep, task)).Build(task, "h")

	if !strings.Contains(brief, "- T-0: Add client [Done]") {
		t.Errorf("expected resolved dependency, got:\n%s", brief)
	}
	if !strings.Contains(brief, "- T-99 (unknown)") {
		t.Errorf("expected unknown dependency, got:\n%s", brief)
	}
}

func TestBuild_History(t *testing.T) {
	task := store.Task{
		ID: "T-1", Name: "Add docs", Status: store.StatusTodo,
		Comments: []store.Comment{{Type: "note", Content: "**Decision:** Operators"}},
	}
	brief := New(nil).Build(task, "h")
	if !strings.Contains(brief, "**[note]** **Decision:** Operators") {
		t.Errorf("expected history entry, got:\n%s", brief)
	}
}
