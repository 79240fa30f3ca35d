package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/orchestrator"
	"github.com/imkarma/drover/internal/signals"
)

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "Repeat the pipeline until the backlog settles",
	Long: `Runs the nightly pipeline again and again until a run changes nothing,
--max-iterations is reached, or a stop signal arrives.

Stop a running sprint from another shell with: drover stop`,
	Args: cobra.NoArgs,
	RunE: runSprint,
}

var sprintMaxIterations int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running sprint to stop after its current iteration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := signals.SendStop(projectDir); err != nil {
			return fmt.Errorf("send stop signal: %w", err)
		}
		printStatus("✓", "Stop signal sent", color.FgGreen)
		return nil
	},
}

func init() {
	addRunFlags(sprintCmd)
	sprintCmd.Flags().IntVar(&sprintMaxIterations, "max-iterations", 0, "Max pipeline runs (default from config)")
	rootCmd.AddCommand(sprintCmd)
}

func runSprint(cmd *cobra.Command, args []string) error {
	ss, err := newSession()
	if err != nil {
		return err
	}
	defer ss.close()

	ctx, cancel := interruptContext()
	defer cancel()

	if err := signals.Clear(projectDir); err != nil {
		return err
	}
	w, err := signals.Watch(projectDir)
	if err != nil {
		return err
	}
	defer w.Close()

	maxIter := ss.cfg.Defaults.MaxIterations
	if sprintMaxIterations != 0 {
		maxIter = sprintMaxIterations
	}
	opts := orchestrator.SprintOptions{
		Options:       runOptions(ss.cfg, orchestrator.EntrySprint),
		MaxIterations: maxIter,
		Stop:          w.Stop(),
	}

	if !runJSON {
		warnInterrupted(ss.ledger)
	}
	reports, err := ss.orch.Sprint(ctx, opts)
	for i, rep := range reports {
		if serr := saveReport(rep, iterationReportPath(runReport, i+1)); serr != nil {
			printStatus("⚠", serr.Error(), color.FgYellow)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sprint: %w", err)
	}

	if runJSON {
		out := reports
		if out == nil {
			out = []*orchestrator.Report{}
		}
		return writeJSON(os.Stdout, out)
	}
	for i, rep := range reports {
		fmt.Printf("\n%s═══ Iteration %d%s\n", colorBold, i+1, colorReset)
		printReport(rep)
	}
	switch {
	case errors.Is(err, context.Canceled):
		printStatus("⚠", fmt.Sprintf("Sprint interrupted after %d iteration(s)", len(reports)), color.FgYellow)
	case w.ShouldStop():
		printStatus("✓", fmt.Sprintf("Sprint stopped by signal after %d iteration(s)", len(reports)), color.FgGreen)
	default:
		printStatus("✓", fmt.Sprintf("Sprint finished after %d iteration(s)", len(reports)), color.FgGreen)
	}
	return nil
}

// iterationReportPath numbers a --report path per sprint iteration:
// out/report.json becomes out/report-2.json for iteration 2. An empty path
// stays empty so the report goes to the reports directory.
func iterationReportPath(path string, iteration int) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), iteration, ext)
}
