// Package git inspects the working copy drover runs from. The result is a
// precheck: it is reported, never acted on.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Health statuses.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Health is the state of the working copy at the start of a run.
type Health struct {
	Status           string   `json:"status"`
	Branch           string   `json:"branch,omitempty"`
	HasUncommitted   bool     `json:"has_uncommitted_changes"`
	UncommittedFiles []string `json:"uncommitted_files,omitempty"`
	Ahead            int      `json:"ahead"`
	Behind           int      `json:"behind"`
	Error            string   `json:"error,omitempty"`
}

// WorkingCopy runs read-only git queries in a directory.
type WorkingCopy struct {
	workDir string
	exclude []string
}

// New creates a WorkingCopy for the given directory. Paths in exclude (the
// project dir holding the backlog and logs) never count as uncommitted.
// Relative paths are taken from workDir; paths outside it are ignored.
func New(workDir string, exclude ...string) *WorkingCopy {
	w := &WorkingCopy{workDir: workDir}
	for _, p := range exclude {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(workDir, p)
			if err != nil {
				continue
			}
			p = rel
		}
		p = filepath.Clean(p)
		if p == "." || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
			continue
		}
		w.exclude = append(w.exclude, filepath.ToSlash(p))
	}
	return w
}

func (w *WorkingCopy) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.workDir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}

// IsGitRepo checks if the working directory is a git repository.
func (w *WorkingCopy) IsGitRepo(ctx context.Context) bool {
	out, err := w.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// CurrentBranch returns the name of the current git branch.
func (w *WorkingCopy) CurrentBranch(ctx context.Context) (string, error) {
	out, err := w.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// UncommittedFiles lists paths with staged, unstaged or untracked changes.
func (w *WorkingCopy) UncommittedFiles(ctx context.Context) ([]string, error) {
	args := []string{"status", "--porcelain"}
	if len(w.exclude) > 0 {
		args = append(args, "--", ":/")
		for _, p := range w.exclude {
			args = append(args, ":(exclude)"+p)
		}
	}
	out, err := w.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames are reported as "old -> new".
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		files = append(files, path)
	}
	return files, nil
}

// AheadBehind counts commits relative to the upstream branch. ok is false
// when the branch has no upstream.
func (w *WorkingCopy) AheadBehind(ctx context.Context) (ahead, behind int, ok bool) {
	out, err := w.git(ctx, "rev-list", "--left-right", "--count", "HEAD...@{upstream}")
	if err != nil {
		return 0, 0, false
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, false
	}
	ahead, err1 := strconv.Atoi(fields[0])
	behind, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return ahead, behind, true
}

// Check reports the working copy's health. It never returns an error: a
// failure is described in the result with StatusError.
func (w *WorkingCopy) Check(ctx context.Context) Health {
	if !w.IsGitRepo(ctx) {
		return Health{Status: StatusError, Error: "not a git repository: " + w.workDir}
	}

	h := Health{Status: StatusOK}
	branch, err := w.CurrentBranch(ctx)
	if err != nil {
		h.Status = StatusError
		h.Error = err.Error()
		return h
	}
	h.Branch = branch

	files, err := w.UncommittedFiles(ctx)
	if err != nil {
		h.Status = StatusError
		h.Error = err.Error()
		return h
	}
	h.UncommittedFiles = files
	h.HasUncommitted = len(files) > 0

	if ahead, behind, ok := w.AheadBehind(ctx); ok {
		h.Ahead, h.Behind = ahead, behind
	}

	if h.HasUncommitted || h.Behind > 0 {
		h.Status = StatusWarning
	}
	return h
}

// Summary is a one-line description for logs and reports.
func (h Health) Summary() string {
	switch h.Status {
	case StatusError:
		return "working copy check failed: " + h.Error
	case StatusWarning:
		var parts []string
		if h.HasUncommitted {
			parts = append(parts, fmt.Sprintf("%d uncommitted file(s)", len(h.UncommittedFiles)))
		}
		if h.Behind > 0 {
			parts = append(parts, fmt.Sprintf("%d commit(s) behind upstream", h.Behind))
		}
		return fmt.Sprintf("working copy on %s has %s", h.Branch, strings.Join(parts, " and "))
	}
	return "working copy on " + h.Branch + " is clean"
}
