// Package orchestrator runs the backlog pipeline shared by the nightly,
// sprint and daily entry points.
//
// One run loads the task store once, classifies Todo tasks, routes
// interactive ones to Review, batch-approves Review tasks that no longer need
// a person, assigns background tasks to hosts, and saves once. A dry run goes
// through every stage on a copy of the backlog and writes nothing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imkarma/drover/internal/approval"
	"github.com/imkarma/drover/internal/brief"
	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/git"
	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/hosts"
	"github.com/imkarma/drover/internal/logging"
	"github.com/imkarma/drover/internal/scheduler"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
	"github.com/imkarma/drover/internal/worker"
)

// EntryPoint names what started a run.
type EntryPoint string

const (
	EntryNightly EntryPoint = "nightly"
	EntrySprint  EntryPoint = "sprint"
	EntryDaily   EntryPoint = "daily"
)

// State is a stage of a run.
type State string

const (
	StateInit              State = "init"
	StateClassified        State = "classified"
	StateInteractiveRouted State = "interactive_routed"
	StateBatchApproved     State = "batch_approved"
	StateAssigned          State = "assigned"
	StatePersisted         State = "persisted"
	StateDryRunReported    State = "dry_run_reported"
)

// ReviewReasonPrefix starts the note left on a task routed to Review.
const ReviewReasonPrefix = "Moved to Review by automation. Reason: "

// ErrInvalidOptions is wrapped by every Options validation error.
var ErrInvalidOptions = errors.New("invalid run options")

// Options control one run.
type Options struct {
	MaxTasksPerHost  int
	MaxParallelTasks int
	// Priority limits assignment to tasks of this priority. Empty means any.
	Priority string
	// Tags limits assignment to tasks carrying any of these tags.
	Tags       []string
	DryRun     bool
	EntryPoint EntryPoint
	// Dispatch hands assignments to the Dispatcher after the store is saved.
	Dispatch bool
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxTasksPerHost:  5,
		MaxParallelTasks: 10,
		EntryPoint:       EntryNightly,
	}
}

func (o Options) validate() error {
	if o.MaxTasksPerHost < 1 {
		return fmt.Errorf("%w: max tasks per host must be at least 1, got %d", ErrInvalidOptions, o.MaxTasksPerHost)
	}
	if o.MaxParallelTasks < 1 {
		return fmt.Errorf("%w: max parallel tasks must be at least 1, got %d", ErrInvalidOptions, o.MaxParallelTasks)
	}
	if !store.ValidPriority(o.Priority) {
		return fmt.Errorf("%w: unknown priority %q (use high, medium or low)", ErrInvalidOptions, o.Priority)
	}
	switch o.EntryPoint {
	case "", EntryNightly, EntrySprint, EntryDaily:
	default:
		return fmt.Errorf("%w: unknown entry point %q", ErrInvalidOptions, o.EntryPoint)
	}
	return nil
}

// HealthChecker inspects the working copy before a run.
type HealthChecker interface {
	Check(ctx context.Context) git.Health
}

// Recorder keeps the run ledger. *history.Ledger implements it.
type Recorder interface {
	StartRun(id, entryPoint string, maxPerHost, maxParallel int) error
	AddEvent(runID, taskID, eventType, content string) error
	EndRun(r history.Run) error
}

// Dispatcher hands assigned tasks to their hosts. *worker.Pool implements it.
type Dispatcher interface {
	Run(ctx context.Context, jobs []worker.Job) []worker.TaskResult
}

// Orchestrator wires the components of a run. Store, Classifier and
// Transitions are required; the rest are optional.
type Orchestrator struct {
	Store       *store.Store
	Hosts       []hosts.Host
	Classifier  *classify.Classifier
	Transitions *transition.Manager
	Health      HealthChecker
	History     Recorder
	Dispatcher  Dispatcher
	Logger      *slog.Logger

	// NewRunID and Now are swappable for tests.
	NewRunID func() string
	Now      func() time.Time
}

func (o *Orchestrator) log() *slog.Logger {
	return logging.OrDiscard(o.Logger)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) newRunID() string {
	if o.NewRunID != nil {
		return o.NewRunID()
	}
	return uuid.New().String()[:8]
}

func (o *Orchestrator) check() error {
	switch {
	case o.Store == nil:
		return errors.New("orchestrator: no task store")
	case o.Classifier == nil:
		return errors.New("orchestrator: no classifier")
	case o.Transitions == nil:
		return errors.New("orchestrator: no transition manager")
	}
	return nil
}

// Run executes one pass of the pipeline. It returns an error for invalid
// options, store read or write failures and invalid transitions. Health,
// history and dispatch failures become report warnings.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	return o.run(ctx, opts, scheduler.Load{})
}

// run is Run with hosts already carrying load, so capacity holds across the
// iterations of a sprint.
func (o *Orchestrator) run(ctx context.Context, opts Options, load scheduler.Load) (*Report, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	if opts.EntryPoint == "" {
		opts.EntryPoint = EntryNightly
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	start := o.now()
	rep := newReport(o.newRunID(), opts, start)
	log := o.log().With("run_id", rep.RunID, "entry_point", rep.EntryPoint, "dry_run", opts.DryRun)

	// Init
	snap, err := o.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load task store: %w", err)
	}
	for _, w := range snap.Warnings() {
		rep.warn(log, "skipped malformed task: "+w.String())
	}
	o.precheck(ctx, log, rep)
	if opts.DryRun {
		snap = snap.Clone()
	}
	log.Info("run state", "state", StateInit, "tasks", len(snap.Tasks()), "hosts", len(o.Hosts))

	var events []event

	// Classified
	var interactive []store.Task
	reasons := make(map[string]string)
	for _, t := range snap.ByStatus(store.StatusTodo) {
		res := o.Classifier.Classify(t)
		log.Debug("classified task", "task_id", t.ID, "verdict", res.Verdict, "rule", res.Rule)
		if res.Verdict == classify.Interactive {
			interactive = append(interactive, t)
			reasons[t.ID] = res.Reason
		}
	}
	rep.Summary.InteractiveTasksFound = len(interactive)
	log.Info("run state", "state", StateClassified, "interactive", len(interactive))

	// InteractiveRouted
	if len(interactive) > opts.MaxParallelTasks {
		interactive = interactive[:opts.MaxParallelTasks]
	}
	for _, t := range interactive {
		note := &transition.Note{Type: store.CommentNote, Content: ReviewReasonPrefix + reasons[t.ID]}
		if _, err := o.Transitions.ApplyTo(snap, t.ID, store.StatusTodo, store.StatusReview, note); err != nil {
			return nil, fmt.Errorf("route %s to review: %w", t.ID, err)
		}
		rep.MovedToReview = append(rep.MovedToReview, t.ID)
		events = append(events, event{t.ID, "moved_to_review", reasons[t.ID]})
	}
	rep.Summary.TasksMovedToReview = len(rep.MovedToReview)
	log.Info("run state", "state", StateInteractiveRouted, "moved_to_review", len(rep.MovedToReview))

	// BatchApproved
	approved, err := approval.BatchApprove(snap, o.Transitions, approval.Request{
		From:      store.StatusReview,
		To:        store.StatusTodo,
		Predicate: approval.NotInteractive(o.Classifier),
		Exclude:   rep.MovedToReview,
	})
	if err != nil {
		return nil, err
	}
	rep.BatchApproved = append(rep.BatchApproved, approved.TaskIDs...)
	rep.Summary.TasksBatchApproved = approved.Count()
	for _, id := range approved.TaskIDs {
		events = append(events, event{id, "approved", approval.DefaultComment})
	}
	log.Info("run state", "state", StateBatchApproved, "approved", approved.Count())

	// Assigned
	background := o.backgroundSet(snap, opts)
	plan := scheduler.AssignWithLoad(background, o.Hosts, opts.MaxTasksPerHost, opts.MaxParallelTasks, load)
	for _, a := range plan.Assignments {
		note := &transition.Note{
			Type:    store.CommentResult,
			Content: fmt.Sprintf("Assigned to %s (%s) for automated execution", a.HostID, a.Hostname),
		}
		if _, err := o.Transitions.ApplyTo(snap, a.TaskID, store.StatusTodo, store.StatusInProgress, note); err != nil {
			return nil, fmt.Errorf("assign %s: %w", a.TaskID, err)
		}
		rep.AssignedTasks = append(rep.AssignedTasks, a)
		events = append(events, event{a.TaskID, "assigned", a.HostID})
	}
	rep.Summary.BackgroundTasksFound = len(background)
	rep.Summary.TasksAssigned = len(plan.Assignments)
	rep.Summary.HostsUsed = plan.HostsUsed()
	rep.Summary.BackgroundTasksRemaining = plan.Remaining
	if plan.Remaining > 0 {
		log.Info("capacity exhausted", "remaining", plan.Remaining)
	}
	log.Info("run state", "state", StateAssigned, "assigned", len(plan.Assignments), "hosts_used", plan.HostsUsed())

	if opts.DryRun {
		rep.finish(o.now())
		log.Info("run state", "state", StateDryRunReported)
		return rep, nil
	}

	// Persisted
	if changed := snap.Modified(); len(changed) > 0 {
		if err := transition.Persist(o.Store, snap); err != nil {
			log.Error("persist failed", "error", err)
			o.recordFailure(log, rep, opts, err)
			return nil, err
		}
	}
	log.Info("run state", "state", StatePersisted, "modified", len(snap.Modified()))

	rec := o.startRecord(log, rep, opts)
	for _, e := range events {
		rec.event(e)
	}

	if opts.Dispatch {
		for _, r := range o.dispatch(ctx, log, rep, snap, plan) {
			kind := "dispatched"
			if r.Failed() {
				kind = "dispatch_" + r.Status
			}
			rec.event(event{r.TaskID, kind, strings.TrimSpace(r.Summary + " " + r.Error)})
		}
	}

	rep.finish(o.now())
	rec.end(history.RunCompleted, "")
	log.Info("run finished",
		"assigned", rep.Summary.TasksAssigned,
		"moved_to_review", rep.Summary.TasksMovedToReview,
		"approved", rep.Summary.TasksBatchApproved,
		"remaining", rep.Summary.BackgroundTasksRemaining,
		"warnings", len(rep.Warnings))
	return rep, nil
}

// precheck records the working copy state. A failed check is a warning.
func (o *Orchestrator) precheck(ctx context.Context, log *slog.Logger, rep *Report) {
	if o.Health == nil {
		return
	}
	h := o.Health.Check(ctx)
	rep.WorkingCopy = &h
	switch h.Status {
	case git.StatusError:
		rep.warn(log, h.Summary())
	case git.StatusWarning:
		log.Warn("working copy precheck", "summary", h.Summary())
	default:
		log.Info("working copy precheck", "summary", h.Summary())
	}
}

// backgroundSet reclassifies the current Todo tasks and applies the run's
// priority and tag filters.
func (o *Orchestrator) backgroundSet(snap *store.Snapshot, opts Options) []store.Task {
	var out []store.Task
	for _, t := range snap.ByStatus(store.StatusTodo) {
		if o.Classifier.Classify(t).Verdict != classify.Background {
			continue
		}
		if opts.Priority != "" && !strings.EqualFold(t.Priority, opts.Priority) {
			continue
		}
		if !t.HasAnyTag(opts.Tags) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// dispatch hands the run's assignments to the Dispatcher. The store is
// already saved; results only go into the report.
func (o *Orchestrator) dispatch(ctx context.Context, log *slog.Logger, rep *Report, snap *store.Snapshot, plan scheduler.Plan) []worker.TaskResult {
	if len(plan.Assignments) == 0 {
		return nil
	}
	if o.Dispatcher == nil {
		rep.warn(log, "dispatch requested but no dispatcher is configured")
		return nil
	}

	byID := make(map[string]hosts.Host, len(o.Hosts))
	for _, h := range o.Hosts {
		byID[h.ID] = h
	}
	b := brief.New(snap)
	jobs := make([]worker.Job, 0, len(plan.Assignments))
	for _, a := range plan.Assignments {
		t, _ := snap.Task(a.TaskID)
		jobs = append(jobs, worker.Job{TaskID: a.TaskID, Host: byID[a.HostID], Brief: b.Build(t, a.HostID)})
	}

	results := o.Dispatcher.Run(ctx, jobs)
	rep.Dispatch = results
	for _, r := range results {
		if r.Failed() {
			msg := fmt.Sprintf("dispatch of %s to %s %s", r.TaskID, r.HostID, r.Status)
			if r.Error != "" {
				msg += ": " + r.Error
			} else if r.Summary != "" {
				msg += ": " + r.Summary
			}
			rep.warn(log, msg)
		}
	}
	return results
}
