// Package agent starts dispatched tasks on worker hosts: directly for the
// local host, over ssh for remote ones.
package agent

import (
	"context"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/hosts"
)

// Request contains everything a host needs to work on a task.
type Request struct {
	TaskID     string // Task ID for tracking
	Brief      string // Markdown brief, passed on stdin
	TimeoutSec int    // Max execution time
}

// Response is what we get back from a host.
type Response struct {
	Output   string  // Captured stdout
	ExitCode int     // 0 = success, non-zero = failure, -1 = did not finish
	Duration float64 // Execution time in seconds
	TimedOut bool
	Error    error // Any execution error
}

// Runner is the interface every host adapter implements.
type Runner interface {
	// Run executes the task on the host and returns the response.
	Run(ctx context.Context, req Request) (*Response, error)

	// Name returns the host id.
	Name() string

	// Mode returns "local" or "ssh".
	Mode() string
}

// NewRunner creates the runner for a host.
func NewRunner(h hosts.Host, cfg config.Dispatch) Runner {
	if h.IsLocal() {
		return NewLocalRunner(h, cfg)
	}
	return NewSSHRunner(h, cfg)
}
