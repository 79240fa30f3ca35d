package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/imkarma/drover/internal/git"
	"github.com/imkarma/drover/internal/scheduler"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/worker"
)

// Summary holds the counters of one run.
type Summary struct {
	BackgroundTasksFound     int `json:"background_tasks_found"`
	InteractiveTasksFound    int `json:"interactive_tasks_found"`
	TasksAssigned            int `json:"tasks_assigned"`
	TasksMovedToReview       int `json:"tasks_moved_to_review"`
	TasksBatchApproved       int `json:"tasks_batch_approved"`
	HostsUsed                int `json:"hosts_used"`
	BackgroundTasksRemaining int `json:"background_tasks_remaining"`
}

// Report is the outcome of one run. In a dry run it describes what would
// have changed.
type Report struct {
	RunID         string                 `json:"run_id"`
	EntryPoint    EntryPoint             `json:"entry_point"`
	Timestamp     string                 `json:"timestamp"`
	DryRun        bool                   `json:"dryRun"`
	Summary       Summary                `json:"summary"`
	AssignedTasks []scheduler.Assignment `json:"assigned_tasks"`
	MovedToReview []string               `json:"moved_to_review"`
	BatchApproved []string               `json:"batch_approved"`
	WorkingCopy   *git.Health            `json:"working_copy,omitempty"`
	Warnings      []string               `json:"warnings"`
	Dispatch      []worker.TaskResult    `json:"dispatch,omitempty"`
	DurationMS    int64                  `json:"duration_ms"`

	started time.Time
}

func newReport(runID string, opts Options, start time.Time) *Report {
	return &Report{
		RunID:         runID,
		EntryPoint:    opts.EntryPoint,
		Timestamp:     store.Timestamp(start),
		DryRun:        opts.DryRun,
		AssignedTasks: []scheduler.Assignment{},
		MovedToReview: []string{},
		BatchApproved: []string{},
		Warnings:      []string{},
		started:       start,
	}
}

func (r *Report) warn(log *slog.Logger, msg string) {
	log.Warn(msg)
	r.Warnings = append(r.Warnings, msg)
}

func (r *Report) finish(end time.Time) {
	r.DurationMS = end.Sub(r.started).Milliseconds()
}

// Changed reports whether the run moved any task.
func (r *Report) Changed() bool {
	return r.Summary.TasksAssigned+r.Summary.TasksMovedToReview+r.Summary.TasksBatchApproved > 0
}

// FileName is the default name for the report under the reports directory.
func (r *Report) FileName() string {
	return fmt.Sprintf("%s-%s-%s.json", r.started.UTC().Format("20060102-150405"), r.EntryPoint, r.RunID)
}

// JSON returns the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile writes the report as indented JSON to path, creating its directory.
func (r *Report) WriteFile(path string) error {
	data, err := r.JSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
