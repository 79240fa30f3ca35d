// Package transition applies audited status changes to tasks.
package transition

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imkarma/drover/internal/store"
)

// ErrInvalidTransition is matched by every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError reports a transition whose source status does not
// match the task or whose target equals the current status.
type InvalidTransitionError struct {
	TaskID  string
	Current store.Status
	From    store.Status
	To      store.Status
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s (%s -> %s, current %s): %s",
		e.TaskID, e.From, e.To, e.Current, e.Reason)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Note is the comment attached to a transition.
type Note struct {
	Type    string // store.CommentNote or store.CommentResult
	Content string
}

// Manager builds transitioned task values. Now and NewID are swappable for tests.
type Manager struct {
	Now   func() time.Time
	NewID func() string
}

// NewManager returns a Manager using the wall clock and random ids.
func NewManager() *Manager {
	return &Manager{
		Now:   time.Now,
		NewID: func() string { return uuid.New().String()[:8] },
	}
}

// Apply returns a copy of task moved from -> to. It appends exactly one status
// change, at most one comment, and stamps lastModified. task is not modified.
func (m *Manager) Apply(task store.Task, from, to store.Status, note *Note) (store.Task, error) {
	current := task.Status.Normalize()
	from, to = from.Normalize(), to.Normalize()

	if current != from {
		return store.Task{}, &InvalidTransitionError{
			TaskID: task.ID, Current: current, From: from, To: to,
			Reason: "task is not in the source status",
		}
	}
	if to == current {
		return store.Task{}, &InvalidTransitionError{
			TaskID: task.ID, Current: current, From: from, To: to,
			Reason: "task is already in the target status",
		}
	}
	if _, ok := store.ParseStatus(string(to)); !ok {
		return store.Task{}, &InvalidTransitionError{
			TaskID: task.ID, Current: current, From: from, To: to,
			Reason: "unknown target status",
		}
	}

	ts := store.Timestamp(m.Now())
	next := task.Touched()
	next.Status = to
	next.Changes = append(next.Changes, store.Change{
		Field:     "status",
		OldValue:  string(task.Status),
		NewValue:  string(to),
		Timestamp: ts,
	})
	if note != nil && note.Content != "" {
		kind := note.Type
		if kind == "" {
			kind = store.CommentNote
		}
		next.Comments = append(next.Comments, store.Comment{
			ID:      fmt.Sprintf("%s-C-%s", task.ID, m.NewID()),
			TodoID:  task.ID,
			Type:    kind,
			Content: note.Content,
			Created: ts,
		})
	}
	next.LastModified = ts
	return next, nil
}

// ApplyTo transitions the task with id in snap and swaps the result in.
func (m *Manager) ApplyTo(snap *store.Snapshot, id string, from, to store.Status, note *Note) (store.Task, error) {
	task, ok := snap.Task(id)
	if !ok {
		return store.Task{}, fmt.Errorf("transition %s: %w", id, store.ErrTaskNotFound)
	}
	next, err := m.Apply(task, from, to, note)
	if err != nil {
		return store.Task{}, err
	}
	if err := snap.Replace(next); err != nil {
		return store.Task{}, err
	}
	return next, nil
}

// Persist writes every transition applied to snap in one save.
func Persist(s *store.Store, snap *store.Snapshot) error {
	if err := s.Save(snap); err != nil {
		return fmt.Errorf("persist transitions: %w", err)
	}
	return nil
}
