package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

func testManager() *transition.Manager {
	return &transition.Manager{
		Now:   func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string { return "00000000" },
	}
}

func reviewSnapshot() *store.Snapshot {
	return store.NewSnapshot(
		store.Task{ID: "R-1", Name: "Implement cache", Status: store.StatusReview, Tags: []string{"backend"}},
		store.Task{ID: "R-2", Name: "Add docs", Status: store.StatusReview,
			Description: "Clarification Required: which audience?"},
		store.Task{ID: "R-3", Name: "Decide vendor", Status: store.StatusReview, Tags: []string{"backend"}},
		store.Task{ID: "T-4", Name: "Fix bug", Status: store.StatusTodo},
	)
}

func TestBatchApprove_NoClarification(t *testing.T) {
	snap := reviewSnapshot()
	res, err := BatchApprove(snap, testManager(), Request{
		From: store.StatusReview, To: store.StatusTodo, Predicate: NoClarification,
	})
	if err != nil {
		t.Fatalf("BatchApprove: %v", err)
	}
	if len(res.TaskIDs) != 2 || res.TaskIDs[0] != "R-1" || res.TaskIDs[1] != "R-3" {
		t.Fatalf("expected [R-1 R-3], got %v", res.TaskIDs)
	}
	task, _ := snap.Task("R-1")
	if task.Status != store.StatusTodo {
		t.Errorf("expected Todo, got %q", task.Status)
	}
	if len(task.Changes) != 1 || len(task.Comments) != 1 {
		t.Errorf("expected one change and one comment, got %d/%d", len(task.Changes), len(task.Comments))
	}
	if task.Comments[0].Content != DefaultComment {
		t.Errorf("expected %q comment, got %q", DefaultComment, task.Comments[0].Content)
	}
}

func TestBatchApprove_NotInteractive(t *testing.T) {
	snap := reviewSnapshot()
	res, err := BatchApprove(snap, testManager(), Request{
		From: store.StatusReview, To: store.StatusTodo, Predicate: NotInteractive(classify.Default()),
	})
	if err != nil {
		t.Fatalf("BatchApprove: %v", err)
	}
	if len(res.TaskIDs) != 1 || res.TaskIDs[0] != "R-1" {
		t.Fatalf("expected [R-1], got %v", res.TaskIDs)
	}
}

func TestBatchApprove_Filters(t *testing.T) {
	snap := reviewSnapshot()
	res, _ := BatchApprove(snap, testManager(), Request{
		From: store.StatusReview, To: store.StatusTodo, Predicate: Any,
		Tags: []string{"backend"}, Exclude: []string{"R-3"},
	})
	if len(res.TaskIDs) != 1 || res.TaskIDs[0] != "R-1" {
		t.Fatalf("expected [R-1], got %v", res.TaskIDs)
	}

	snap = reviewSnapshot()
	res, _ = BatchApprove(snap, testManager(), Request{
		From: store.StatusReview, To: store.StatusTodo, Predicate: Any, IDs: []string{"R-2", "T-4"},
	})
	if len(res.TaskIDs) != 1 || res.TaskIDs[0] != "R-2" {
		t.Fatalf("expected [R-2], got %v", res.TaskIDs)
	}
}

func TestBatchApprove_Idempotent(t *testing.T) {
	snap := reviewSnapshot()
	req := Request{From: store.StatusReview, To: store.StatusTodo, Predicate: NoClarification}
	first, _ := BatchApprove(snap, testManager(), req)
	if first.Count() == 0 {
		t.Fatal("expected first pass to approve something")
	}
	second, err := BatchApprove(snap, testManager(), req)
	if err != nil {
		t.Fatalf("second BatchApprove: %v", err)
	}
	if second.Count() != 0 {
		t.Errorf("expected second pass to approve nothing, got %v", second.TaskIDs)
	}
}

func TestBatchApprove_SameStatus(t *testing.T) {
	_, err := BatchApprove(reviewSnapshot(), testManager(), Request{From: store.StatusReview, To: "review"})
	if err == nil {
		t.Fatal("expected error for same source and target")
	}
}

func TestPreview_DoesNotMutate(t *testing.T) {
	snap := reviewSnapshot()
	ids := Preview(snap, Request{From: store.StatusReview, To: store.StatusTodo})
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	if task, _ := snap.Task("R-1"); task.Status != store.StatusReview {
		t.Errorf("expected R-1 still in Review, got %q", task.Status)
	}
}

func TestResolve(t *testing.T) {
	snap := reviewSnapshot()
	task, err := Resolve(snap, testManager(), Resolution{TaskID: "R-2", Decision: "Operators", Reopen: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if task.Status != store.StatusTodo {
		t.Errorf("expected Todo, got %q", task.Status)
	}
	if classify.NeedsInput(task) {
		t.Error("expected clarification marked resolved")
	}
	if len(task.Changes) != 2 {
		t.Errorf("expected description and status changes, got %d", len(task.Changes))
	}
	if len(task.Comments) != 1 || task.Comments[0].Content != "**Decision:** Operators" {
		t.Errorf("unexpected comments %+v", task.Comments)
	}
}

func TestResolve_NotInReview(t *testing.T) {
	_, err := Resolve(reviewSnapshot(), testManager(), Resolution{TaskID: "T-4", Decision: "x"})
	if !errors.Is(err, transition.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
