package orchestrator

import (
	"log/slog"

	"github.com/imkarma/drover/internal/history"
)

type event struct {
	taskID  string
	kind    string
	content string
}

// record writes one run to the ledger. The first ledger error becomes a
// report warning and the rest of the run is not recorded.
type record struct {
	rec    Recorder
	log    *slog.Logger
	rep    *Report
	opts   Options
	broken bool
}

func (o *Orchestrator) startRecord(log *slog.Logger, rep *Report, opts Options) *record {
	r := &record{rec: o.History, log: log, rep: rep, opts: opts}
	if r.rec == nil {
		r.broken = true
		return r
	}
	r.fail(r.rec.StartRun(rep.RunID, string(rep.EntryPoint), opts.MaxTasksPerHost, opts.MaxParallelTasks))
	return r
}

func (r *record) fail(err error) {
	if err == nil || r.broken {
		return
	}
	r.broken = true
	r.rep.warn(r.log, "run history unavailable: "+err.Error())
}

func (r *record) event(e event) {
	if r.broken {
		return
	}
	r.fail(r.rec.AddEvent(r.rep.RunID, e.taskID, e.kind, e.content))
}

func (r *record) end(status, errText string) {
	if r.broken {
		return
	}
	r.fail(r.rec.EndRun(history.Run{
		ID:        r.rep.RunID,
		Status:    status,
		Assigned:  r.rep.Summary.TasksAssigned,
		Reviewed:  r.rep.Summary.TasksMovedToReview,
		Approved:  r.rep.Summary.TasksBatchApproved,
		Remaining: r.rep.Summary.BackgroundTasksRemaining,
		Error:     errText,
	}))
}

// recordFailure records a run that could not save its changes.
func (o *Orchestrator) recordFailure(log *slog.Logger, rep *Report, opts Options, err error) {
	rec := o.startRecord(log, rep, opts)
	rec.end(history.RunFailed, err.Error())
}
