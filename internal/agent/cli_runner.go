package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/hosts"
)

// CLIRunner spawns a process for each dispatched task and passes the brief
// on stdin. The process is either the dispatch command itself (local host)
// or ssh running it in the host's project path (remote host).
type CLIRunner struct {
	host hosts.Host
	cfg  config.Dispatch
	mode string
}

// NewLocalRunner runs the dispatch command in the local checkout.
func NewLocalRunner(h hosts.Host, cfg config.Dispatch) *CLIRunner {
	return &CLIRunner{host: h, cfg: cfg, mode: "local"}
}

// NewSSHRunner runs the dispatch command on a remote host over ssh.
func NewSSHRunner(h hosts.Host, cfg config.Dispatch) *CLIRunner {
	return &CLIRunner{host: h, cfg: cfg, mode: "ssh"}
}

func (r *CLIRunner) Name() string { return r.host.ID }
func (r *CLIRunner) Mode() string { return r.mode }

// Command returns the program, arguments and working directory for a task.
//
// Local:  <cmd> <args...> <task-id>          (in the project path)
// Remote: ssh <ssh-args...> <host> 'cd <path> && <cmd> <args...> <task-id>'
func (r *CLIRunner) Command(taskID string) (name string, args []string, dir string) {
	remote := append([]string{r.cfg.Cmd}, r.cfg.Args...)
	remote = append(remote, taskID)

	if r.mode == "local" {
		return remote[0], remote[1:], r.host.ProjectPath
	}

	quoted := make([]string, len(remote))
	for i, a := range remote {
		quoted[i] = shellQuote(a)
	}
	line := strings.Join(quoted, " ")
	if r.host.ProjectPath != "" {
		line = "cd " + shellQuote(r.host.ProjectPath) + " && " + line
	}

	args = append(r.cfg.EffectiveSSHArgs(), r.host.Hostname, line)
	return r.cfg.SSHBinary(), args, ""
}

// Run spawns the process with the brief on stdin. A non-zero exit is
// reported in the response, not as an error; only timeouts and failures to
// start return an error.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	timeout := time.Duration(r.cfg.DefaultTimeout()) * time.Second
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args, dir := r.Command(req.TaskID)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(req.Brief)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	resp := &Response{
		Output:   stdout.String(),
		Duration: time.Since(start).Seconds(),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			resp.TimedOut = true
			resp.ExitCode = -1
			resp.Error = fmt.Errorf("host %s timed out after %ds", r.host.ID, int(timeout.Seconds()))
			return resp, resp.Error
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			resp.ExitCode = -1
			resp.Error = fmt.Errorf("start %s on %s: %w", name, r.host.ID, err)
			return resp, resp.Error
		}
		resp.ExitCode = exitErr.ExitCode()

		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			resp.Error = fmt.Errorf("host %s exited with code %d: %s", r.host.ID, resp.ExitCode, stderrStr)
		} else {
			resp.Error = fmt.Errorf("host %s exited with code %d: %w", r.host.ID, resp.ExitCode, err)
		}

		// Partial output may still be useful.
		return resp, nil
	}

	resp.ExitCode = 0
	return resp, nil
}

// CLIAvailable checks if the command exists in PATH.
func CLIAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@%+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
