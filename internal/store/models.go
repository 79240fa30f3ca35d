package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a task in the backlog.
type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "In Progress"
	StatusReview     Status = "Review"
	StatusDone       Status = "Done"
)

// Statuses lists every canonical status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}

// ParseStatus maps the spellings found in real backlogs ("todo", "in_progress",
// "In Progress", "REVIEW") onto the canonical statuses.
func ParseStatus(s string) (Status, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("_", " ", "-", " ").Replace(k)
	switch k {
	case "todo", "to do":
		return StatusTodo, true
	case "in progress", "inprogress", "doing":
		return StatusInProgress, true
	case "review", "in review":
		return StatusReview, true
	case "done", "completed", "complete":
		return StatusDone, true
	}
	return "", false
}

// Normalize returns the canonical form of s, or s itself if it is unknown.
func (s Status) Normalize() Status {
	if n, ok := ParseStatus(string(s)); ok {
		return n
	}
	return s
}

// Is reports whether s and other name the same state regardless of spelling.
func (s Status) Is(other Status) bool {
	return s.Normalize() == other.Normalize()
}

// Priorities accepted by filters.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// ValidPriority reports whether p is empty or one of high, medium, low.
func ValidPriority(p string) bool {
	switch strings.ToLower(p) {
	case "", PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Change is one entry of a task's audit trail. An entry read from the
// backlog is written back as read, members drover does not model included.
type Change struct {
	Field     string `json:"field"`
	OldValue  string `json:"oldValue"`
	NewValue  string `json:"newValue"`
	Timestamp string `json:"timestamp"`

	raw json.RawMessage
}

// UnmarshalJSON reads the modelled members as text and never fails on
// their types, so an unusual audit entry cannot make its task unusable.
func (c *Change) UnmarshalJSON(data []byte) error {
	f := looseStrings(data, "field", "oldValue", "newValue", "timestamp")
	*c = Change{Field: f[0], OldValue: f[1], NewValue: f[2], Timestamp: f[3], raw: cloneRaw(data)}
	return nil
}

// MarshalJSON writes a loaded entry as read and a new one from its fields.
func (c Change) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	type plain Change
	return json.Marshal(plain(c))
}

// Comment types.
const (
	CommentNote   = "note"
	CommentResult = "result"
)

// Comment is a note attached to a task. Like Change, a loaded comment is
// written back as read.
type Comment struct {
	ID      string `json:"id"`
	TodoID  string `json:"todoId"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Created string `json:"created"`

	raw json.RawMessage
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	f := looseStrings(data, "id", "todoId", "type", "content", "created")
	*c = Comment{ID: f[0], TodoID: f[1], Type: f[2], Content: f[3], Created: f[4], raw: cloneRaw(data)}
	return nil
}

func (c Comment) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	type plain Comment
	return json.Marshal(plain(c))
}

// looseStrings reads the named members of a JSON object as text. Strings are
// unquoted, null and missing members are empty, and any other value is its
// compact JSON. Input that is not an object yields empty fields.
func looseStrings(data []byte, keys ...string) []string {
	out := make([]string, len(keys))
	var members map[string]json.RawMessage
	if json.Unmarshal(data, &members) != nil {
		return out
	}
	for i, k := range keys {
		v, ok := members[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, &out[i]); err == nil {
			continue
		}
		var buf bytes.Buffer
		if json.Compact(&buf, v) == nil {
			out[i] = buf.String()
		} else {
			out[i] = string(v)
		}
	}
	return out
}

func cloneRaw(data []byte) json.RawMessage {
	return append(json.RawMessage(nil), data...)
}

// Task is a unit of work in the backlog. Values are treated as immutable:
// changes go through transition.Manager, which returns a new Task.
type Task struct {
	ID             string
	Name           string
	Description    string
	Status         Status
	Tags           []string
	Priority       string
	Dependencies   []string
	EstimatedHours *float64
	Changes        []Change
	Comments       []Comment
	LastModified   string

	// extra holds JSON members drover does not model, written back as-is.
	extra map[string]json.RawMessage
	// read holds the modelled members as read and order the original member
	// order. Both are shared between clones and never mutated.
	read  map[string]json.RawMessage
	order []string
	// raw is the task exactly as read. It is dropped once the task is modified.
	raw json.RawMessage
}

// Text is the lower-cased name and description used for keyword matching.
func (t Task) Text() string {
	return strings.ToLower(t.Name + " " + t.Description)
}

// HasTag reports whether the task carries tag (case-insensitive).
func (t Task) HasTag(tag string) bool {
	for _, x := range t.Tags {
		if strings.EqualFold(x, tag) {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the task carries at least one of tags.
// An empty tags list matches every task.
func (t Task) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if t.HasTag(tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy whose slices can be appended to without
// affecting t.
func (t Task) Clone() Task {
	c := t
	c.Tags = slices.Clone(t.Tags)
	c.Dependencies = slices.Clone(t.Dependencies)
	c.Changes = slices.Clone(t.Changes)
	c.Comments = slices.Clone(t.Comments)
	if t.EstimatedHours != nil {
		h := *t.EstimatedHours
		c.EstimatedHours = &h
	}
	if t.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(t.extra))
		for k, v := range t.extra {
			c.extra[k] = v
		}
	}
	return c
}

// Touched returns a copy marked as modified so it is re-encoded on save.
func (t Task) Touched() Task {
	c := t.Clone()
	c.raw = nil
	return c
}

// Modified reports whether the task differs from what was read.
func (t Task) Modified() bool {
	return t.raw == nil
}

// Extra returns the raw value of an unmodelled member.
func (t Task) Extra(key string) (json.RawMessage, bool) {
	v, ok := t.extra[key]
	return v, ok
}

// Timestamp formats ts the way the backlog stores times.
func Timestamp(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// wireTask is the JSON layout of the modelled members.
type wireTask struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"long_description"`
	Status         Status    `json:"status"`
	Tags           []string  `json:"tags"`
	Priority       string    `json:"priority"`
	Dependencies   []string  `json:"dependencies"`
	EstimatedHours *float64  `json:"estimatedHours"`
	Changes        []Change  `json:"changes"`
	Comments       []Comment `json:"comments"`
	LastModified   string    `json:"lastModified"`
}

var knownKeys = map[string]bool{
	"id": true, "name": true, "long_description": true, "status": true,
	"tags": true, "priority": true, "dependencies": true, "estimatedHours": true,
	"changes": true, "comments": true, "lastModified": true,
}

// UnmarshalJSON decodes a task and keeps every member it does not model.
func (t *Task) UnmarshalJSON(data []byte) error {
	order, members, err := objectMembers(data)
	if err != nil {
		return err
	}
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Task{
		ID:             w.ID,
		Name:           w.Name,
		Description:    w.Description,
		Status:         w.Status,
		Tags:           w.Tags,
		Priority:       w.Priority,
		Dependencies:   w.Dependencies,
		EstimatedHours: w.EstimatedHours,
		Changes:        w.Changes,
		Comments:       w.Comments,
		LastModified:   w.LastModified,
		order:          order,
		raw:            cloneRaw(data),
	}
	for k, v := range members {
		if knownKeys[k] {
			if t.read == nil {
				t.read = make(map[string]json.RawMessage)
			}
			t.read[k] = v
			continue
		}
		if t.extra == nil {
			t.extra = make(map[string]json.RawMessage)
		}
		t.extra[k] = v
	}
	return nil
}

// objectMembers returns the members of a JSON object and their order. A
// repeated key keeps its first position and its last value.
func objectMembers(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected a JSON object")
	}
	var order []string
	members := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("member %q: %w", key, err)
		}
		if _, dup := members[key]; !dup {
			order = append(order, key)
		}
		members[key] = v
	}
	return order, members, nil
}

type wireField struct {
	key   string
	value any
	empty bool
}

func (t Task) wireFields() []wireField {
	return []wireField{
		{"id", t.ID, false},
		{"name", t.Name, t.Name == ""},
		{"long_description", t.Description, t.Description == ""},
		{"status", t.Status, false},
		{"tags", t.Tags, len(t.Tags) == 0},
		{"priority", t.Priority, t.Priority == ""},
		{"dependencies", t.Dependencies, len(t.Dependencies) == 0},
		{"estimatedHours", t.EstimatedHours, t.EstimatedHours == nil},
		{"changes", t.Changes, len(t.Changes) == 0},
		{"comments", t.Comments, len(t.Comments) == 0},
		{"lastModified", t.LastModified, t.LastModified == ""},
	}
}

// MarshalJSON writes an untouched task exactly as it was read. A modified
// task keeps its original member order and every member it was read with.
// A modelled member whose value did not change keeps its original text, and
// an empty one is only written if it was there before. New members follow in
// canonical order, then any extras not yet written.
func (t Task) MarshalJSON() ([]byte, error) {
	if t.raw != nil {
		return t.raw, nil
	}

	fields := t.wireFields()
	enc := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		orig, had := t.read[f.key]
		if !had && f.empty {
			continue
		}
		b, err := json.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
		if had && sameJSON(orig, b) {
			b = orig
		}
		enc[f.key] = b
	}

	var buf bytes.Buffer
	written := make(map[string]bool, len(enc)+len(t.extra))
	write := func(k string, v []byte) {
		if len(written) > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(v)
		written[k] = true
	}

	buf.WriteByte('{')
	for _, k := range t.order {
		if v, ok := enc[k]; ok {
			write(k, v)
		} else if v, ok := t.extra[k]; ok {
			write(k, v)
		}
	}
	for _, f := range fields {
		if v, ok := enc[f.key]; ok && !written[f.key] {
			write(f.key, v)
		}
	}
	keys := make([]string, 0, len(t.extra))
	for k := range t.extra {
		if !written[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k, t.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// sameJSON reports whether a and b encode the same value.
func sameJSON(a, b []byte) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	return reflect.DeepEqual(x, y)
}

// validate checks the members every operation relies on.
func (t Task) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("missing id")
	}
	if _, ok := ParseStatus(string(t.Status)); !ok {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	return nil
}
