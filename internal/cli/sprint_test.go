package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imkarma/drover/internal/orchestrator"
)

func TestIterationReportPath(t *testing.T) {
	tests := []struct {
		path string
		i    int
		want string
	}{
		{"", 1, ""},
		{"out/r.json", 2, "out/r-2.json"},
		{"report", 1, "report-1"},
		{"/tmp/a.b/run.json", 3, "/tmp/a.b/run-3.json"},
	}
	for _, tt := range tests {
		if got := iterationReportPath(tt.path, tt.i); got != tt.want {
			t.Errorf("iterationReportPath(%q, %d): expected %q, got %q", tt.path, tt.i, tt.want, got)
		}
	}
}

func TestSaveReport_ExplicitPathOnDryRun(t *testing.T) {
	dir := t.TempDir()
	rep := &orchestrator.Report{RunID: "run00001", DryRun: true}

	path := iterationReportPath(filepath.Join(dir, "sprint.json"), 1)
	if err := saveReport(rep, path); err != nil {
		t.Fatalf("saveReport: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sprint-1.json")); err != nil {
		t.Errorf("expected sprint-1.json written, got %v", err)
	}
}
