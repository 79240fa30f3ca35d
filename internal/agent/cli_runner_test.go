package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/hosts"
)

func TestNewRunner_Mode(t *testing.T) {
	local := NewRunner(hosts.Host{ID: "l", Type: hosts.Local}, config.Dispatch{Cmd: "x"})
	if local.Mode() != "local" {
		t.Errorf("expected local mode, got %s", local.Mode())
	}
	remote := NewRunner(hosts.Host{ID: "r", Type: hosts.Remote}, config.Dispatch{Cmd: "x"})
	if remote.Mode() != "ssh" || remote.Name() != "r" {
		t.Errorf("expected ssh runner named r, got %s/%s", remote.Mode(), remote.Name())
	}
}

func TestCommand_Local(t *testing.T) {
	r := NewLocalRunner(hosts.Host{ID: "l", ProjectPath: "/work"}, config.Dispatch{Cmd: "drover-exec", Args: []string{"--quiet"}})
	name, args, dir := r.Command("T-1")
	if name != "drover-exec" {
		t.Errorf("expected drover-exec, got %s", name)
	}
	if strings.Join(args, " ") != "--quiet T-1" {
		t.Errorf("unexpected args %v", args)
	}
	if dir != "/work" {
		t.Errorf("expected /work, got %s", dir)
	}
}

func TestCommand_Remote(t *testing.T) {
	h := hosts.Host{ID: "b1", Hostname: "ci@build-1", ProjectPath: "/srv/my app"}
	r := NewSSHRunner(h, config.Dispatch{Cmd: "drover-exec", SSHArgs: []string{"-p", "2222"}})
	name, args, dir := r.Command("T-1")
	if name != "ssh" {
		t.Errorf("expected ssh, got %s", name)
	}
	if dir != "" {
		t.Errorf("expected no local dir, got %s", dir)
	}
	want := []string{"-o", "BatchMode=yes", "-p", "2222", "ci@build-1", "cd '/srv/my app' && drover-exec T-1"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, args)
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"plain":      "plain",
		"with space": "'with space'",
		"it's":       `'it'\''s'`,
		"":           "''",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRun_PassesBriefOnStdin(t *testing.T) {
	r := NewLocalRunner(hosts.Host{ID: "l", ProjectPath: t.TempDir()},
		config.Dispatch{Cmd: "sh", Args: []string{"-c", `cat; echo "task=$0"`}})

	resp, err := r.Run(context.Background(), Request{TaskID: "T-1", Brief: "hello brief\n", TimeoutSec: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (%v)", resp.ExitCode, resp.Error)
	}
	if !strings.Contains(resp.Output, "hello brief") || !strings.Contains(resp.Output, "task=T-1") {
		t.Errorf("unexpected output %q", resp.Output)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := NewLocalRunner(hosts.Host{ID: "l", ProjectPath: t.TempDir()},
		config.Dispatch{Cmd: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})

	resp, err := r.Run(context.Background(), Request{TaskID: "T-1", TimeoutSec: 10})
	if err != nil {
		t.Fatalf("expected no error for non-zero exit, got %v", err)
	}
	if resp.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", resp.ExitCode)
	}
	if resp.Error == nil || !strings.Contains(resp.Error.Error(), "boom") {
		t.Errorf("expected stderr in error, got %v", resp.Error)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := NewLocalRunner(hosts.Host{ID: "l", ProjectPath: t.TempDir()},
		config.Dispatch{Cmd: "sleep", Args: []string{"5"}})

	// sleep receives "5" and the task id; use a numeric id so it stays valid.
	resp, err := r.Run(context.Background(), Request{TaskID: "1", TimeoutSec: 1})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !resp.TimedOut {
		t.Error("expected TimedOut")
	}
}

func TestRun_MissingCommand(t *testing.T) {
	r := NewLocalRunner(hosts.Host{ID: "l", ProjectPath: t.TempDir()},
		config.Dispatch{Cmd: "definitely-not-a-real-binary-xyz"})
	resp, err := r.Run(context.Background(), Request{TaskID: "T-1", TimeoutSec: 5})
	if err == nil {
		t.Fatal("expected start error")
	}
	if resp.ExitCode != -1 {
		t.Errorf("expected exit -1, got %d", resp.ExitCode)
	}
}
