// Package approval promotes Review tasks back to Todo in bulk.
package approval

import (
	"fmt"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

// DefaultComment is attached to every batch-approved task.
const DefaultComment = "batch-approved"

// Predicate decides whether a candidate task may be approved.
type Predicate func(store.Task) bool

// Any approves every candidate.
func Any(store.Task) bool { return true }

// NoClarification approves tasks that do not ask for clarification or input.
func NoClarification(t store.Task) bool {
	return !classify.NeedsInput(t)
}

// NotInteractive approves tasks the classifier would not send straight back
// to Review once they are in Todo again.
func NotInteractive(c *classify.Classifier) Predicate {
	return func(t store.Task) bool {
		return !c.WouldBeInteractive(t)
	}
}

// Request describes one batch.
type Request struct {
	From      store.Status
	To        store.Status
	Predicate Predicate
	// Tags limits the batch to tasks carrying any of these tags.
	Tags []string
	// IDs limits the batch to these task ids.
	IDs []string
	// Exclude removes ids from the batch.
	Exclude []string
	Comment string
}

// Result lists what the batch approved.
type Result struct {
	TaskIDs []string     `json:"task_ids"`
	From    store.Status `json:"status_from"`
	To      store.Status `json:"status_to"`
}

// Count returns the number of approved tasks.
func (r Result) Count() int { return len(r.TaskIDs) }

// Candidates returns the tasks a request would approve, in document order.
func Candidates(snap *store.Snapshot, req Request) []store.Task {
	pred := req.Predicate
	if pred == nil {
		pred = NoClarification
	}
	ids := toSet(req.IDs)
	exclude := toSet(req.Exclude)

	var out []store.Task
	for _, t := range snap.ByStatus(req.From) {
		if exclude[t.ID] {
			continue
		}
		if len(ids) > 0 && !ids[t.ID] {
			continue
		}
		if !t.HasAnyTag(req.Tags) {
			continue
		}
		if !pred(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Preview lists the ids a request would approve without changing anything.
func Preview(snap *store.Snapshot, req Request) []string {
	var ids []string
	for _, t := range Candidates(snap, req) {
		ids = append(ids, t.ID)
	}
	return ids
}

// BatchApprove transitions every candidate in snap. It changes the snapshot
// only; the caller saves once for the whole batch.
func BatchApprove(snap *store.Snapshot, mgr *transition.Manager, req Request) (Result, error) {
	if req.From.Normalize() == req.To.Normalize() {
		return Result{}, fmt.Errorf("batch approve: source and target status are both %s", req.From)
	}
	comment := req.Comment
	if comment == "" {
		comment = DefaultComment
	}

	res := Result{From: req.From.Normalize(), To: req.To.Normalize()}
	for _, t := range Candidates(snap, req) {
		note := &transition.Note{Type: store.CommentNote, Content: comment}
		if _, err := mgr.ApplyTo(snap, t.ID, req.From, req.To, note); err != nil {
			return res, fmt.Errorf("batch approve %s: %w", t.ID, err)
		}
		res.TaskIDs = append(res.TaskIDs, t.ID)
	}
	return res, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
