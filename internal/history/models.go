package history

import "time"

// Run statuses.
const (
	RunRunning     = "running"
	RunCompleted   = "completed"
	RunFailed      = "failed"
	RunInterrupted = "interrupted"
)

// Run is one recorded orchestrator run.
type Run struct {
	ID          string    `json:"id"`
	EntryPoint  string    `json:"entry_point"` // nightly, sprint, daily, approve
	Status      string    `json:"status"`      // running, completed, failed, interrupted
	MaxPerHost  int       `json:"max_per_host"`
	MaxParallel int       `json:"max_parallel"`
	Assigned    int       `json:"assigned"`
	Reviewed    int       `json:"moved_to_review"`
	Approved    int       `json:"batch_approved"`
	Remaining   int       `json:"remaining"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

// Event is something a run did to a task.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"event_type"` // assigned, moved_to_review, approved, dispatched, dispatch_failed, warning
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
