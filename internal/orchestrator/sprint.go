package orchestrator

import (
	"context"
	"fmt"

	"github.com/imkarma/drover/internal/approval"
	"github.com/imkarma/drover/internal/git"
	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/scheduler"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

// SprintOptions control a sprint: repeated runs until the backlog settles.
type SprintOptions struct {
	Options
	MaxIterations int
	// Stop ends the sprint before the next iteration when it fires or closes.
	Stop <-chan struct{}
}

// Sprint repeats Run until an iteration changes nothing, MaxIterations is
// reached, Stop fires or ctx is done. It returns the report of every
// iteration that ran. Tasks assigned by earlier iterations still count
// against host capacity and MaxParallelTasks. A dry run stops after one iteration since nothing it
// does is saved.
func (o *Orchestrator) Sprint(ctx context.Context, so SprintOptions) ([]*Report, error) {
	if so.MaxIterations < 1 {
		return nil, fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidOptions, so.MaxIterations)
	}
	so.EntryPoint = EntrySprint
	log := o.log().With("entry_point", EntrySprint)

	var reports []*Report
	var load scheduler.Load
	for i := 1; i <= so.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return reports, ctx.Err()
		case <-so.Stop:
			log.Info("sprint stopped by signal", "iterations", len(reports))
			return reports, nil
		default:
		}

		rep, err := o.run(ctx, so.Options, load)
		if err != nil {
			return reports, fmt.Errorf("sprint iteration %d: %w", i, err)
		}
		reports = append(reports, rep)
		load.Add(rep.AssignedTasks)
		log.Info("sprint iteration", "iteration", i, "run_id", rep.RunID, "changed", rep.Changed(), "assigned_total", load.Total)

		if !rep.Changed() || so.DryRun {
			break
		}
	}
	return reports, nil
}

// DailyReport is the outcome of the daily pass.
type DailyReport struct {
	RunID         string         `json:"run_id"`
	Timestamp     string         `json:"timestamp"`
	DryRun        bool           `json:"dryRun"`
	WorkingCopy   *git.Health    `json:"working_copy,omitempty"`
	BatchApproved []string       `json:"batch_approved"`
	Counts        map[string]int `json:"counts"`
	Warnings      []string       `json:"warnings"`
	DurationMS    int64          `json:"duration_ms"`
}

// Daily runs the precheck and the batch approval pass, saves once, and
// reports task counts by status.
func (o *Orchestrator) Daily(ctx context.Context, dryRun bool) (*DailyReport, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	start := o.now()
	opts := Options{EntryPoint: EntryDaily, DryRun: dryRun}
	rep := newReport(o.newRunID(), opts, start)
	log := o.log().With("run_id", rep.RunID, "entry_point", EntryDaily, "dry_run", dryRun)

	snap, err := o.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load task store: %w", err)
	}
	for _, w := range snap.Warnings() {
		rep.warn(log, "skipped malformed task: "+w.String())
	}
	o.precheck(ctx, log, rep)
	if dryRun {
		snap = snap.Clone()
	}

	approved, err := approval.BatchApprove(snap, o.Transitions, approval.Request{
		From:      store.StatusReview,
		To:        store.StatusTodo,
		Predicate: approval.NotInteractive(o.Classifier),
	})
	if err != nil {
		return nil, err
	}
	rep.BatchApproved = append(rep.BatchApproved, approved.TaskIDs...)
	rep.Summary.TasksBatchApproved = approved.Count()
	log.Info("daily batch approval", "approved", approved.Count())

	if !dryRun {
		if approved.Count() > 0 {
			if err := transition.Persist(o.Store, snap); err != nil {
				log.Error("persist failed", "error", err)
				o.recordFailure(log, rep, opts, err)
				return nil, err
			}
		}
		rec := o.startRecord(log, rep, opts)
		for _, id := range approved.TaskIDs {
			rec.event(event{id, "approved", approval.DefaultComment})
		}
		rec.end(history.RunCompleted, "")
	}

	counts := make(map[string]int, len(store.Statuses))
	for _, s := range store.Statuses {
		counts[string(s)] = 0
	}
	for s, n := range snap.Counts() {
		counts[string(s)] = n
	}

	return &DailyReport{
		RunID:         rep.RunID,
		Timestamp:     rep.Timestamp,
		DryRun:        dryRun,
		WorkingCopy:   rep.WorkingCopy,
		BatchApproved: rep.BatchApproved,
		Counts:        counts,
		Warnings:      rep.Warnings,
		DurationMS:    o.now().Sub(start).Milliseconds(),
	}, nil
}
