package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/imkarma/drover/internal/approval"
	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/git"
	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/hosts"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
	"github.com/imkarma/drover/internal/worker"
)

var fixedNow = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

type todo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"long_description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func writeBacklog(t *testing.T, todos ...any) string {
	t.Helper()
	data, err := json.MarshalIndent(map[string]any{"todos": todos}, "", "  ")
	if err != nil {
		t.Fatalf("marshal backlog: %v", err)
	}
	path := filepath.Join(t.TempDir(), "backlog.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write backlog: %v", err)
	}
	return path
}

func newTestOrchestrator(path string, hs ...hosts.Host) *Orchestrator {
	n := 0
	return &Orchestrator{
		Store:      store.New(path),
		Hosts:      hs,
		Classifier: classify.Default(),
		Transitions: &transition.Manager{
			Now:   func() time.Time { return fixedNow },
			NewID: func() string { n++; return fmt.Sprintf("%08d", n) },
		},
		NewRunID: func() string { return "run00001" },
		Now:      func() time.Time { return fixedNow },
	}
}

func oneHost(capacity int) hosts.Host {
	return hosts.Host{ID: "local", Hostname: "localhost", Type: hosts.Local, Capacity: capacity}
}

func loadTask(t *testing.T, path, id string) store.Task {
	t.Helper()
	snap, err := store.New(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	task, ok := snap.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task
}

func TestRun_MixedBacklog(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"},
		todo{ID: "T-2", Name: "Decide on caching strategy", Status: "Todo"},
		todo{ID: "T-3", Name: "Research competitor APIs", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(5))

	opts := DefaultOptions()
	rep, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := rep.Summary
	if s.TasksAssigned != 2 {
		t.Errorf("expected 2 assigned, got %d", s.TasksAssigned)
	}
	if s.TasksMovedToReview != 1 {
		t.Errorf("expected 1 moved to review, got %d", s.TasksMovedToReview)
	}
	if s.BackgroundTasksRemaining != 0 {
		t.Errorf("expected 0 remaining, got %d", s.BackgroundTasksRemaining)
	}
	if s.InteractiveTasksFound != 1 || s.BackgroundTasksFound != 2 || s.HostsUsed != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
	if len(rep.MovedToReview) != 1 || rep.MovedToReview[0] != "T-2" {
		t.Errorf("expected T-2 moved to review, got %v", rep.MovedToReview)
	}

	for id, want := range map[string]store.Status{
		"T-1": store.StatusInProgress,
		"T-2": store.StatusReview,
		"T-3": store.StatusInProgress,
	} {
		task := loadTask(t, path, id)
		if task.Status != want {
			t.Errorf("%s: expected %s, got %s", id, want, task.Status)
		}
	}

	t2 := loadTask(t, path, "T-2")
	if len(t2.Comments) != 1 || !strings.HasPrefix(t2.Comments[0].Content, ReviewReasonPrefix) {
		t.Errorf("expected review note on T-2, got %+v", t2.Comments)
	}
	t1 := loadTask(t, path, "T-1")
	if len(t1.Comments) != 1 || t1.Comments[0].Type != store.CommentResult ||
		!strings.Contains(t1.Comments[0].Content, "Assigned to local (localhost)") {
		t.Errorf("expected assignment comment on T-1, got %+v", t1.Comments)
	}
}

func TestRun_CapacityExhausted(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"},
		todo{ID: "T-2", Name: "Fix flaky test", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(1))

	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Summary.TasksAssigned != 1 {
		t.Errorf("expected 1 assigned, got %d", rep.Summary.TasksAssigned)
	}
	if rep.Summary.BackgroundTasksRemaining != 1 {
		t.Errorf("expected 1 remaining, got %d", rep.Summary.BackgroundTasksRemaining)
	}
	if loadTask(t, path, "T-2").Status != store.StatusTodo {
		t.Error("expected T-2 to stay in Todo")
	}
}

func TestRun_DryRunLeavesStoreUntouched(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"},
		todo{ID: "T-2", Name: "Decide on caching strategy", Status: "Todo"},
		todo{ID: "T-3", Name: "Add metrics", Status: "Review"},
	)
	before, _ := os.ReadFile(path)
	rec := &fakeRecorder{}
	o := newTestOrchestrator(path, oneHost(5))
	o.History = rec
	o.Dispatcher = &fakeDispatcher{}

	opts := DefaultOptions()
	opts.DryRun = true
	opts.Dispatch = true
	rep, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("dry run changed the store")
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("dry run wrote a backup")
	}
	if !rep.DryRun {
		t.Error("expected dryRun in report")
	}
	if rep.Summary.TasksAssigned != 2 || rep.Summary.TasksMovedToReview != 1 || rep.Summary.TasksBatchApproved != 1 {
		t.Errorf("expected the would-be changes in the report, got %+v", rep.Summary)
	}
	if len(rec.calls) != 0 {
		t.Errorf("dry run recorded history: %v", rec.calls)
	}
	if o.Dispatcher.(*fakeDispatcher).jobs != nil {
		t.Error("dry run dispatched")
	}
}

func TestRun_ApprovesThenAssigns(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Add metrics endpoint", Status: "Review"},
		todo{ID: "T-2", Name: "Choose a license", Status: "Review"},
	)
	o := newTestOrchestrator(path, oneHost(5))

	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.BatchApproved) != 1 || rep.BatchApproved[0] != "T-1" {
		t.Fatalf("expected T-1 approved, got %v", rep.BatchApproved)
	}

	t1 := loadTask(t, path, "T-1")
	if t1.Status != store.StatusInProgress {
		t.Errorf("expected T-1 in progress, got %s", t1.Status)
	}
	if len(t1.Changes) != 2 {
		t.Errorf("expected 2 changes (approve, assign), got %d", len(t1.Changes))
	}
	if loadTask(t, path, "T-2").Status != store.StatusReview {
		t.Error("expected T-2 to stay in Review")
	}
}

func TestRun_RoutedTasksAreNotReapproved(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Decide on caching strategy", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(5))

	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.BatchApproved) != 0 {
		t.Errorf("expected no approvals, got %v", rep.BatchApproved)
	}
	t1 := loadTask(t, path, "T-1")
	if t1.Status != store.StatusReview || len(t1.Changes) != 1 {
		t.Errorf("expected T-1 in Review with one change, got %s/%d", t1.Status, len(t1.Changes))
	}
}

func TestRun_ResolvedTaskIsAssigned(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Decide on caching strategy", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(5))

	if _, err := o.Run(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if got := loadTask(t, path, "T-1").Status; got != store.StatusReview {
		t.Fatalf("expected T-1 in Review, got %s", got)
	}

	s := store.New(path)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := approval.Resolve(snap, o.Transitions, approval.Resolution{
		TaskID: "T-1", Decision: "use redis", Reopen: true,
	}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := transition.Persist(s, snap); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(rep.MovedToReview) != 0 {
		t.Errorf("expected nothing moved to review, got %v", rep.MovedToReview)
	}
	if len(rep.AssignedTasks) != 1 || rep.AssignedTasks[0].TaskID != "T-1" {
		t.Errorf("expected T-1 assigned, got %+v", rep.AssignedTasks)
	}
	if got := loadTask(t, path, "T-1").Status; got != store.StatusInProgress {
		t.Errorf("expected T-1 in progress, got %s", got)
	}
}

func TestRun_RoutingBoundedByMaxParallel(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Decide on database", Status: "Todo"},
		todo{ID: "T-2", Name: "Choose a framework", Status: "Todo"},
		todo{ID: "T-3", Name: "Propose pricing", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(5))
	opts := DefaultOptions()
	opts.MaxParallelTasks = 2

	rep, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Summary.InteractiveTasksFound != 3 {
		t.Errorf("expected 3 interactive, got %d", rep.Summary.InteractiveTasksFound)
	}
	if rep.Summary.TasksMovedToReview != 2 {
		t.Errorf("expected 2 moved, got %d", rep.Summary.TasksMovedToReview)
	}
	if loadTask(t, path, "T-3").Status != store.StatusTodo {
		t.Error("expected T-3 to wait for the next run")
	}
}

func TestRun_AuditCompleteness(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"},
		todo{ID: "T-2", Name: "Decide on caching strategy", Status: "Todo"},
		todo{ID: "T-3", Name: "Ambiguous thing", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(5))
	if _, err := o.Run(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := store.Timestamp(fixedNow)
	for _, id := range []string{"T-1", "T-2"} {
		task := loadTask(t, path, id)
		if len(task.Changes) != 1 {
			t.Errorf("%s: expected 1 change, got %d", id, len(task.Changes))
			continue
		}
		c := task.Changes[0]
		if c.Field != "status" || c.OldValue != "Todo" || c.NewValue != string(task.Status) {
			t.Errorf("%s: unexpected change %+v", id, c)
		}
		if task.LastModified != want {
			t.Errorf("%s: expected lastModified %s, got %s", id, want, task.LastModified)
		}
	}
	if t3 := loadTask(t, path, "T-3"); len(t3.Changes) != 0 || t3.Status != store.StatusTodo {
		t.Errorf("expected skipped task untouched, got %+v", t3)
	}
}

func TestRun_Filters(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo", Priority: "high", Tags: []string{"backend"}},
		todo{ID: "T-2", Name: "Fix login bug", Status: "Todo", Priority: "low", Tags: []string{"backend"}},
		todo{ID: "T-3", Name: "Update docs", Status: "Todo", Priority: "high", Tags: []string{"docs"}},
	)
	o := newTestOrchestrator(path, oneHost(5))
	opts := DefaultOptions()
	opts.Priority = "high"
	opts.Tags = []string{"backend"}

	rep, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.AssignedTasks) != 1 || rep.AssignedTasks[0].TaskID != "T-1" {
		t.Errorf("expected only T-1 assigned, got %+v", rep.AssignedTasks)
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	o := newTestOrchestrator(writeBacklog(t), oneHost(5))
	for name, mutate := range map[string]func(*Options){
		"max per host": func(o *Options) { o.MaxTasksPerHost = 0 },
		"max parallel": func(o *Options) { o.MaxParallelTasks = -1 },
		"priority":     func(o *Options) { o.Priority = "urgent" },
		"entry point":  func(o *Options) { o.EntryPoint = "weekly" },
	} {
		opts := DefaultOptions()
		mutate(&opts)
		if _, err := o.Run(context.Background(), opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("%s: expected ErrInvalidOptions, got %v", name, err)
		}
	}
}

// conflictingHealth rewrites the store while the run is in progress.
type conflictingHealth struct {
	path string
	data []byte
}

func (c *conflictingHealth) Check(context.Context) git.Health {
	os.WriteFile(c.path, c.data, 0o644)
	return git.Health{Status: git.StatusOK, Branch: "main"}
}

func TestRun_ConcurrentWriteAborts(t *testing.T) {
	path := writeBacklog(t, todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"})
	other := []byte(`{"todos": [{"id": "T-9", "name": "Written elsewhere", "status": "Todo"}]}`)
	rec := &fakeRecorder{}
	o := newTestOrchestrator(path, oneHost(5))
	o.Health = &conflictingHealth{path: path, data: other}
	o.History = rec

	_, err := o.Run(context.Background(), DefaultOptions())
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, other) {
		t.Error("expected the concurrent write to survive")
	}
	if !rec.has("end:" + history.RunFailed) {
		t.Errorf("expected a failed run in history, got %v", rec.calls)
	}
}

func TestRun_NoChangesSkipsWrite(t *testing.T) {
	path := writeBacklog(t, todo{ID: "T-1", Name: "Something vague", Status: "Todo"})
	o := newTestOrchestrator(path, oneHost(5))
	if _, err := o.Run(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("expected no write when nothing changed")
	}
}

func TestRun_MalformedEntriesAreWarnings(t *testing.T) {
	path := writeBacklog(t,
		map[string]any{"name": "no id", "status": "Todo"},
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"},
	)
	o := newTestOrchestrator(path, oneHost(5))
	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", rep.Warnings)
	}
	if rep.Summary.TasksAssigned != 1 {
		t.Errorf("expected T-1 assigned, got %d", rep.Summary.TasksAssigned)
	}
}

type fakeHealth struct{ h git.Health }

func (f fakeHealth) Check(context.Context) git.Health { return f.h }

func TestRun_HealthFailureIsWarning(t *testing.T) {
	path := writeBacklog(t, todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"})
	o := newTestOrchestrator(path, oneHost(5))
	o.Health = fakeHealth{git.Health{Status: git.StatusError, Error: "not a git repository"}}

	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Warnings) != 1 || !strings.Contains(rep.Warnings[0], "not a git repository") {
		t.Errorf("expected health warning, got %v", rep.Warnings)
	}
	if rep.WorkingCopy == nil || rep.WorkingCopy.Status != git.StatusError {
		t.Error("expected working copy in report")
	}
	if rep.Summary.TasksAssigned != 1 {
		t.Error("expected the run to continue")
	}
}

type fakeRecorder struct {
	calls []string
	err   error
}

func (f *fakeRecorder) StartRun(id, entryPoint string, maxPerHost, maxParallel int) error {
	f.calls = append(f.calls, "start:"+entryPoint)
	return f.err
}

func (f *fakeRecorder) AddEvent(runID, taskID, eventType, content string) error {
	f.calls = append(f.calls, "event:"+taskID+":"+eventType)
	return f.err
}

func (f *fakeRecorder) EndRun(r history.Run) error {
	f.calls = append(f.calls, "end:"+r.Status)
	return f.err
}

func (f *fakeRecorder) has(call string) bool {
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func TestRun_RecordsHistory(t *testing.T) {
	path := writeBacklog(t,
		todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"},
		todo{ID: "T-2", Name: "Decide on caching strategy", Status: "Todo"},
	)
	rec := &fakeRecorder{}
	o := newTestOrchestrator(path, oneHost(5))
	o.History = rec

	if _, err := o.Run(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"start:nightly", "event:T-1:assigned", "event:T-2:moved_to_review", "end:completed"} {
		if !rec.has(want) {
			t.Errorf("expected %s in %v", want, rec.calls)
		}
	}
}

func TestRun_HistoryFailureIsWarning(t *testing.T) {
	path := writeBacklog(t, todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"})
	rec := &fakeRecorder{err: errors.New("database is locked")}
	o := newTestOrchestrator(path, oneHost(5))
	o.History = rec

	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Warnings) != 1 {
		t.Errorf("expected one history warning, got %v", rep.Warnings)
	}
	if len(rec.calls) != 1 {
		t.Errorf("expected recording to stop after the first failure, got %v", rec.calls)
	}
	if loadTask(t, path, "T-1").Status != store.StatusInProgress {
		t.Error("expected the run to be saved anyway")
	}
}

type fakeDispatcher struct {
	jobs   []worker.Job
	status string
}

func (f *fakeDispatcher) Run(ctx context.Context, jobs []worker.Job) []worker.TaskResult {
	f.jobs = jobs
	out := make([]worker.TaskResult, len(jobs))
	for i, j := range jobs {
		out[i] = worker.TaskResult{TaskID: j.TaskID, HostID: j.Host.ID, Status: f.status}
		if f.status != worker.StatusDone {
			out[i].Error = "exit code 1"
		}
	}
	return out
}

func TestRun_Dispatch(t *testing.T) {
	path := writeBacklog(t, todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"})
	d := &fakeDispatcher{status: worker.StatusFailed}
	o := newTestOrchestrator(path, oneHost(5))
	o.Dispatcher = d

	opts := DefaultOptions()
	opts.Dispatch = true
	rep, err := o.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(d.jobs) != 1 || d.jobs[0].Host.ID != "local" {
		t.Fatalf("expected one job for local, got %+v", d.jobs)
	}
	if !strings.Contains(d.jobs[0].Brief, "T-1: Implement retry logic") {
		t.Errorf("expected task in brief, got %q", d.jobs[0].Brief)
	}
	if len(rep.Dispatch) != 1 || len(rep.Warnings) != 1 {
		t.Errorf("expected one failed dispatch reported, got %+v / %v", rep.Dispatch, rep.Warnings)
	}
	if loadTask(t, path, "T-1").Status != store.StatusInProgress {
		t.Error("expected failed task to stay in progress")
	}
}

func TestReport_WriteFile(t *testing.T) {
	path := writeBacklog(t, todo{ID: "T-1", Name: "Implement retry logic", Status: "Todo"})
	o := newTestOrchestrator(path, oneHost(5))
	rep, err := o.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := filepath.Join(t.TempDir(), "reports", rep.FileName())
	if err := rep.WriteFile(out); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	for _, key := range []string{"timestamp", "dryRun", "summary", "assigned_tasks", "moved_to_review"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected %s in report", key)
		}
	}
	assigned := decoded["assigned_tasks"].([]any)[0].(map[string]any)
	if assigned["task_id"] != "T-1" || assigned["host"] != "local" || assigned["hostname"] != "localhost" {
		t.Errorf("unexpected assignment %v", assigned)
	}
}
