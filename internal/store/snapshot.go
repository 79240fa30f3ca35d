package store

import (
	"encoding/json"
	"fmt"
)

// Warning describes a todos entry that could not be used. The entry is kept
// and written back unchanged.
type Warning struct {
	Index  int    `json:"index"`
	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	if w.TaskID != "" {
		return fmt.Sprintf("task %s (entry %d): %s", w.TaskID, w.Index, w.Reason)
	}
	return fmt.Sprintf("entry %d: %s", w.Index, w.Reason)
}

type entry struct {
	task      Task
	malformed json.RawMessage
}

// Snapshot is one loaded version of the task document.
type Snapshot struct {
	// ETag identifies the bytes the snapshot was loaded from. Empty when the
	// document did not exist.
	ETag string

	entries  []entry
	index    map[string]int
	members  []member
	todosAt  int
	warnings []Warning
}

func newSnapshot() *Snapshot {
	return &Snapshot{index: make(map[string]int)}
}

// NewSnapshot builds an in-memory snapshot from tasks, for callers that
// assemble a backlog without reading one.
func NewSnapshot(tasks ...Task) *Snapshot {
	s := newSnapshot()
	for _, t := range tasks {
		s.index[t.ID] = len(s.entries)
		s.entries = append(s.entries, entry{task: t})
	}
	return s
}

func (s *Snapshot) add(i int, item json.RawMessage) {
	var t Task
	if err := json.Unmarshal(item, &t); err != nil {
		s.keepMalformed(Warning{Index: i, Reason: "undecodable: " + err.Error()}, item)
		return
	}
	if err := t.validate(); err != nil {
		s.keepMalformed(Warning{Index: i, TaskID: t.ID, Reason: err.Error()}, item)
		return
	}
	if _, dup := s.index[t.ID]; dup {
		s.keepMalformed(Warning{Index: i, TaskID: t.ID, Reason: "duplicate id"}, item)
		return
	}
	s.index[t.ID] = len(s.entries)
	s.entries = append(s.entries, entry{task: t})
}

func (s *Snapshot) keepMalformed(w Warning, item json.RawMessage) {
	s.warnings = append(s.warnings, w)
	s.entries = append(s.entries, entry{malformed: item})
}

// Tasks returns every usable task in document order.
func (s *Snapshot) Tasks() []Task {
	out := make([]Task, 0, len(s.index))
	for _, e := range s.entries {
		if e.malformed == nil {
			out = append(out, e.task)
		}
	}
	return out
}

// ByStatus returns the tasks whose status normalizes to status, in document order.
func (s *Snapshot) ByStatus(status Status) []Task {
	var out []Task
	for _, t := range s.Tasks() {
		if t.Status.Is(status) {
			out = append(out, t)
		}
	}
	return out
}

// Task looks a task up by id.
func (s *Snapshot) Task(id string) (Task, bool) {
	i, ok := s.index[id]
	if !ok {
		return Task{}, false
	}
	return s.entries[i].task, true
}

// Replace swaps in a new value for the task with the same id.
func (s *Snapshot) Replace(t Task) error {
	i, ok := s.index[t.ID]
	if !ok {
		return fmt.Errorf("replace %s: %w", t.ID, ErrTaskNotFound)
	}
	s.entries[i].task = t.Touched()
	return nil
}

// Warnings lists the entries that were skipped while loading.
func (s *Snapshot) Warnings() []Warning {
	return append([]Warning(nil), s.warnings...)
}

// Counts tallies usable tasks by canonical status.
func (s *Snapshot) Counts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, t := range s.Tasks() {
		counts[t.Status.Normalize()]++
	}
	return counts
}

// Modified returns the ids of tasks changed since load.
func (s *Snapshot) Modified() []string {
	var ids []string
	for _, t := range s.Tasks() {
		if t.Modified() {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Clone returns an independent copy. Mutating the clone never affects s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		ETag:     s.ETag,
		entries:  make([]entry, len(s.entries)),
		index:    make(map[string]int, len(s.index)),
		members:  append([]member(nil), s.members...),
		todosAt:  s.todosAt,
		warnings: append([]Warning(nil), s.warnings...),
	}
	for i, e := range s.entries {
		c.entries[i] = entry{task: e.task.Clone(), malformed: e.malformed}
	}
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}
