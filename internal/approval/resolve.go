package approval

import (
	"fmt"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

// Resolution answers the open question on a Review task.
type Resolution struct {
	TaskID   string
	Decision string
	// Reopen moves the task back to Todo after recording the decision.
	Reopen bool
}

// Resolve records a decision on a Review task and marks its clarification
// as resolved. The decision comment lets the classifier treat the task as
// background work so a later run does not route it back to Review.
func Resolve(snap *store.Snapshot, mgr *transition.Manager, r Resolution) (store.Task, error) {
	task, ok := snap.Task(r.TaskID)
	if !ok {
		return store.Task{}, fmt.Errorf("resolve %s: %w", r.TaskID, store.ErrTaskNotFound)
	}
	if !task.Status.Is(store.StatusReview) {
		return store.Task{}, &transition.InvalidTransitionError{
			TaskID: task.ID, Current: task.Status.Normalize(),
			From: store.StatusReview, To: store.StatusTodo,
			Reason: "only Review tasks can be resolved",
		}
	}
	if r.Decision == "" {
		return store.Task{}, fmt.Errorf("resolve %s: decision is empty", r.TaskID)
	}

	ts := store.Timestamp(mgr.Now())
	next := task.Touched()
	if desc := classify.MarkResolved(task.Description); desc != task.Description {
		next.Description = desc
		next.Changes = append(next.Changes, store.Change{
			Field:     "long_description",
			OldValue:  task.Description,
			NewValue:  desc,
			Timestamp: ts,
		})
	}
	content := classify.DecisionPrefix + r.Decision
	next.Comments = append(next.Comments, store.Comment{
		ID:      fmt.Sprintf("%s-C-%s", task.ID, mgr.NewID()),
		TodoID:  task.ID,
		Type:    store.CommentNote,
		Content: content,
		Created: ts,
	})
	next.LastModified = ts

	if r.Reopen {
		var err error
		next, err = mgr.Apply(next, store.StatusReview, store.StatusTodo, nil)
		if err != nil {
			return store.Task{}, err
		}
	}
	if err := snap.Replace(next); err != nil {
		return store.Task{}, err
	}
	return next, nil
}
