// Package worker dispatches assigned tasks to their hosts. Each host gets
// its own bounded set of workers, sized by the host's capacity.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imkarma/drover/internal/agent"
	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/hosts"
	"github.com/imkarma/drover/internal/logging"
)

// Result statuses.
const (
	StatusDone     = "done"
	StatusBlocked  = "blocked"
	StatusFailed   = "failed"
	StatusTimedOut = "timed_out"
)

// Job is one assigned task ready to dispatch.
type Job struct {
	TaskID string
	Host   hosts.Host
	Brief  string
}

// TaskResult holds the outcome of a single dispatch.
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	HostID   string        `json:"host"`
	Status   string        `json:"status"` // done, blocked, failed, timed_out
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
	Summary  string        `json:"summary,omitempty"` // blocked question or last output line
	Error    string        `json:"error,omitempty"`
}

// Failed reports whether the dispatch needs a person to look at it.
func (r TaskResult) Failed() bool {
	return r.Status != StatusDone
}

// Pool manages dispatch across hosts.
type Pool struct {
	dispatch  config.Dispatch
	newRunner func(hosts.Host) agent.Runner
	logger    *slog.Logger
}

// PoolConfig holds configuration for creating a pool.
type PoolConfig struct {
	Dispatch config.Dispatch
	// NewRunner builds the runner for a host. Defaults to agent.NewRunner.
	NewRunner func(hosts.Host) agent.Runner
	Logger    *slog.Logger
}

// NewPool creates a new dispatch pool.
func NewPool(pc PoolConfig) *Pool {
	newRunner := pc.NewRunner
	if newRunner == nil {
		d := pc.Dispatch
		newRunner = func(h hosts.Host) agent.Runner { return agent.NewRunner(h, d) }
	}
	return &Pool{
		dispatch:  pc.Dispatch,
		newRunner: newRunner,
		logger:    logging.OrDiscard(pc.Logger),
	}
}

// Run dispatches every job and waits for all of them. At most
// Host.Capacity jobs run on a host at once. Each job gets the configured
// timeout; a failed or timed-out job is reported and never retried.
// Results are in job order.
func (p *Pool) Run(ctx context.Context, jobs []Job) []TaskResult {
	results := make([]TaskResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	sems := make(map[string]chan struct{})
	runners := make(map[string]agent.Runner)
	for _, j := range jobs {
		if _, ok := sems[j.Host.ID]; ok {
			continue
		}
		size := j.Host.Capacity
		if size < 1 {
			size = 1
		}
		sems[j.Host.ID] = make(chan struct{}, size)
		runners[j.Host.ID] = p.newRunner(j.Host)
	}

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(idx int, j Job) {
			defer wg.Done()

			sem := sems[j.Host.ID]
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = TaskResult{
					TaskID: j.TaskID, HostID: j.Host.ID, Status: StatusFailed,
					ExitCode: -1, Error: ctx.Err().Error(),
				}
				return
			}
			defer func() { <-sem }()

			results[idx] = p.execute(ctx, runners[j.Host.ID], j)
		}(i, job)
	}

	wg.Wait()
	return results
}

func (p *Pool) execute(ctx context.Context, runner agent.Runner, j Job) TaskResult {
	start := time.Now()
	p.logger.Info("dispatching task", "task_id", j.TaskID, "host", j.Host.ID, "mode", runner.Mode())

	resp, err := runner.Run(ctx, agent.Request{
		TaskID:     j.TaskID,
		Brief:      j.Brief,
		TimeoutSec: p.dispatch.DefaultTimeout(),
	})

	r := TaskResult{TaskID: j.TaskID, HostID: j.Host.ID, Duration: time.Since(start)}
	if resp != nil {
		r.ExitCode = resp.ExitCode
	}

	switch {
	case resp != nil && resp.TimedOut:
		r.Status = StatusTimedOut
		r.Error = fmt.Sprintf("timed out after %ds", p.dispatch.DefaultTimeout())
	case err != nil:
		r.Status = StatusFailed
		r.ExitCode = -1
		r.Error = err.Error()
	case resp.ExitCode != 0:
		r.Status = StatusFailed
		if resp.Error != nil {
			r.Error = resp.Error.Error()
		} else {
			r.Error = fmt.Sprintf("exit code %d", resp.ExitCode)
		}
		r.Summary = agent.LastLine(resp.Output, 200)
	default:
		if q := agent.ParseBlocked(resp.Output); q != "" {
			r.Status = StatusBlocked
			r.Summary = q
		} else {
			r.Status = StatusDone
			r.Summary = agent.LastLine(resp.Output, 200)
		}
	}

	level := slog.LevelInfo
	if r.Failed() {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "dispatch finished",
		"task_id", r.TaskID, "host", r.HostID, "status", r.Status,
		"exit_code", r.ExitCode, "duration", r.Duration.Round(time.Millisecond), "error", r.Error)
	return r
}
