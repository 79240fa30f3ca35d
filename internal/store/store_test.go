package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleDoc = `{
  "project": "demo",
  "todos": [
    {"id": "T-1", "name": "Implement retry logic", "status": "Todo", "tags": ["backend"], "priority": "high", "details": {"owner": "sam"}},
    {"id": "T-2", "name": "Decide on caching strategy", "status": "todo", "long_description": "Pick one"},
    {"id": "", "name": "no id", "status": "Todo"},
    {"id": "T-4", "name": "Weird", "status": "Blocked"},
    "not an object",
    {"id": "T-5", "name": "Ship it", "status": "Done"}
  ],
  "meta": {"version": 3}
}`

// testStore writes content to a temp backlog and returns a store bound to it.
func testStore(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlog.json")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write backlog: %v", err)
		}
	}
	return New(path)
}

func TestLoad_MissingFile(t *testing.T) {
	s := testStore(t, "")
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Tasks()) != 0 {
		t.Errorf("expected no tasks, got %d", len(snap.Tasks()))
	}
	if snap.ETag != "" {
		t.Errorf("expected empty etag, got %q", snap.ETag)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	s := testStore(t, `{"todos": [`)
	if _, err := s.Load(); err == nil {
		t.Fatal("expected error for truncated document")
	}
}

func TestLoad_TodosNotArray(t *testing.T) {
	s := testStore(t, `{"todos": {"id": "x"}}`)
	if _, err := s.Load(); err == nil {
		t.Fatal("expected error when todos is not an array")
	}
}

func TestLoad_SkipsMalformedEntries(t *testing.T) {
	s := testStore(t, sampleDoc)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tasks := snap.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("expected 3 usable tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "T-1" || tasks[1].ID != "T-2" || tasks[2].ID != "T-5" {
		t.Errorf("unexpected order: %s %s %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	if got := len(snap.Warnings()); got != 3 {
		t.Errorf("expected 3 warnings, got %d", got)
	}
	if !tasks[1].Status.Is(StatusTodo) {
		t.Errorf("expected lowercase todo to normalize, got %q", tasks[1].Status)
	}
}

func TestSave_PreservesUnknownFieldsAndMalformed(t *testing.T) {
	s := testStore(t, sampleDoc)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	task, _ := snap.Task("T-1")
	task = task.Clone()
	task.Status = StatusInProgress
	if err := snap.Replace(task); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, _ := os.ReadFile(s.Path())
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("saved document is not JSON: %v", err)
	}
	if string(doc["project"]) != `"demo"` {
		t.Errorf("expected project member kept, got %s", doc["project"])
	}
	if _, ok := doc["meta"]; !ok {
		t.Error("expected meta member kept")
	}

	var todos []json.RawMessage
	json.Unmarshal(doc["todos"], &todos)
	if len(todos) != 6 {
		t.Fatalf("expected all 6 entries written back, got %d", len(todos))
	}
	if string(todos[4]) != `"not an object"` {
		t.Errorf("expected malformed entry untouched, got %s", todos[4])
	}

	var first map[string]json.RawMessage
	json.Unmarshal(todos[0], &first)
	if string(first["status"]) != `"In Progress"` {
		t.Errorf("expected new status, got %s", first["status"])
	}
	if !bytes.Contains(first["details"], []byte("sam")) {
		t.Errorf("expected unknown member details kept, got %s", first["details"])
	}

	var second map[string]json.RawMessage
	json.Unmarshal(todos[1], &second)
	if string(second["status"]) != `"todo"` {
		t.Errorf("expected untouched task to keep its status spelling, got %s", second["status"])
	}
}

const auditDoc = `{
  "todos": [
    {"id": "T-1", "name": "Add export", "status": "Todo", "tags": [], "long_description": "",
     "changes": [{"field": "status", "oldValue": "Review", "newValue": "Todo", "timestamp": "2026-01-01T00:00:00.000000Z", "author": "sam"}],
     "comments": [{"id": "T-1-C-1", "type": "note", "content": "hi", "created": "2026-01-01T00:00:00.000000Z", "updated": "2026-01-02T00:00:00.000000Z"}]},
    {"id": "T-2", "name": "Tidy tags", "status": "Todo",
     "changes": [{"field": "tags", "oldValue": ["a", "b"], "newValue": null, "timestamp": "2026-01-01T00:00:00.000000Z"}]}
  ]
}`

func TestSave_PreservesAuditEntries(t *testing.T) {
	s := testStore(t, auditDoc)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := len(snap.Tasks()); n != 2 {
		t.Fatalf("expected 2 usable tasks, got %d (warnings %v)", n, snap.Warnings())
	}
	if w := snap.Warnings(); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}

	t2, _ := snap.Task("T-2")
	if c := t2.Changes[0]; c.OldValue != `["a","b"]` || c.NewValue != "" {
		t.Errorf("expected array old value as JSON text and null as empty, got %q/%q", c.OldValue, c.NewValue)
	}

	t1, _ := snap.Task("T-1")
	next := t1.Touched()
	next.Status = StatusInProgress
	next.Changes = append(next.Changes, Change{Field: "status", OldValue: "Todo", NewValue: "In Progress"})
	if err := snap.Replace(next); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, _ := os.ReadFile(s.Path())
	var doc struct {
		Todos []map[string]json.RawMessage `json:"todos"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("saved document is not JSON: %v", err)
	}

	first := doc.Todos[0]
	if string(first["tags"]) != "[]" {
		t.Errorf("expected empty tags kept, got %q", first["tags"])
	}
	if string(first["long_description"]) != `""` {
		t.Errorf("expected empty description kept, got %q", first["long_description"])
	}
	var changes, comments []map[string]any
	json.Unmarshal(first["changes"], &changes)
	json.Unmarshal(first["comments"], &comments)
	if len(changes) != 2 || changes[0]["author"] != "sam" {
		t.Errorf("expected author kept on the first change, got %v", changes)
	}
	if len(comments) != 1 || comments[0]["updated"] != "2026-01-02T00:00:00.000000Z" {
		t.Errorf("expected updated kept on the comment, got %v", comments)
	}
	if _, ok := comments[0]["todoId"]; ok {
		t.Error("expected no todoId added to a loaded comment")
	}

	var before struct {
		Todos []any `json:"todos"`
	}
	var after struct {
		Todos []any `json:"todos"`
	}
	json.Unmarshal([]byte(auditDoc), &before)
	json.Unmarshal(data, &after)
	if !reflect.DeepEqual(before.Todos[1], after.Todos[1]) {
		t.Errorf("expected T-2 unchanged, got %v", after.Todos[1])
	}
}

func TestTaskMarshal_KeepsMemberOrder(t *testing.T) {
	var task Task
	if err := json.Unmarshal([]byte(`{"status":"Todo","zeta":1,"id":"T-1","name":"x"}`), &task); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	next := task.Touched()
	next.Priority = "high"
	b, err := json.Marshal(next)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"status":"Todo","zeta":1,"id":"T-1","name":"x","priority":"high"}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestClone_KeepsEmptySlices(t *testing.T) {
	task := Task{ID: "T-1", Tags: []string{}}
	if c := task.Clone(); c.Tags == nil {
		t.Error("expected an empty tags slice to stay non-nil")
	}
	if c := (Task{ID: "T-1"}).Clone(); c.Tags != nil {
		t.Error("expected nil tags to stay nil")
	}
}

func TestSave_WritesBackup(t *testing.T) {
	s := testStore(t, sampleDoc)
	snap, _ := s.Load()
	if err := s.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	bak, err := os.ReadFile(s.BackupPath())
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(bak) != sampleDoc {
		t.Error("expected backup to hold the previous document")
	}
}

func TestSave_Conflict(t *testing.T) {
	s := testStore(t, sampleDoc)
	snap, _ := s.Load()

	changed := strings.Replace(sampleDoc, "demo", "other", 1)
	if err := os.WriteFile(s.Path(), []byte(changed), 0o644); err != nil {
		t.Fatal(err)
	}

	err := s.Save(snap)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	data, _ := os.ReadFile(s.Path())
	if string(data) != changed {
		t.Error("expected the concurrent writer's document to stay in place")
	}
}

func TestSave_FailureLeavesOriginal(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	s := testStore(t, sampleDoc)
	snap, _ := s.Load()
	task, _ := snap.Task("T-1")
	task.Name = "changed"
	snap.Replace(task)

	dir := filepath.Dir(s.Path())
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o755)

	if err := s.Save(snap); err == nil {
		t.Fatal("expected save into read-only dir to fail")
	}
	data, _ := os.ReadFile(s.Path())
	if string(data) != sampleDoc {
		t.Error("expected original document intact after failed save")
	}
}

func TestSave_UpdatesETag(t *testing.T) {
	s := testStore(t, sampleDoc)
	snap, _ := s.Load()
	if err := s.Save(snap); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(snap); err != nil {
		t.Fatalf("second Save with refreshed etag: %v", err)
	}
}

func TestCreate(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "backlog.json"))
	if err := s.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Tasks()) != 0 {
		t.Errorf("expected empty backlog, got %d tasks", len(snap.Tasks()))
	}
}

func TestSnapshotClone_Independent(t *testing.T) {
	s := testStore(t, sampleDoc)
	snap, _ := s.Load()
	clone := snap.Clone()

	task, _ := clone.Task("T-1")
	task.Tags = append(task.Tags, "extra")
	task.Status = StatusReview
	clone.Replace(task)

	orig, _ := snap.Task("T-1")
	if orig.Status != StatusTodo {
		t.Errorf("expected original status Todo, got %q", orig.Status)
	}
	if len(orig.Tags) != 1 {
		t.Errorf("expected original tags untouched, got %v", orig.Tags)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"Todo":        StatusTodo,
		"todo":        StatusTodo,
		"in_progress": StatusInProgress,
		"In Progress": StatusInProgress,
		"REVIEW":      StatusReview,
		"done":        StatusDone,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		if !ok || got != want {
			t.Errorf("ParseStatus(%q): expected %q, got %q (ok=%v)", in, want, got, ok)
		}
	}
	if _, ok := ParseStatus("blocked"); ok {
		t.Error("expected blocked to be unknown")
	}
}

func TestHasAnyTag(t *testing.T) {
	task := Task{Tags: []string{"Backend", "infra"}}
	if !task.HasAnyTag(nil) {
		t.Error("expected empty filter to match")
	}
	if !task.HasAnyTag([]string{"backend"}) {
		t.Error("expected case-insensitive match")
	}
	if task.HasAnyTag([]string{"frontend"}) {
		t.Error("expected no match for frontend")
	}
}
