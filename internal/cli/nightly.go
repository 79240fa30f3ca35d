package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/orchestrator"
)

var nightlyCmd = &cobra.Command{
	Use:     "nightly",
	Aliases: []string{"run"},
	Short:   "Run the backlog pipeline once",
	Long: `Classifies Todo tasks, moves the ones that need a person to Review,
batch-approves Review tasks that no longer need one, and assigns background
tasks to worker hosts. The backlog is saved once at the end.

With --dry-run nothing is written: not the backlog, not the run history,
and no host is contacted.`,
	Args: cobra.NoArgs,
	RunE: runNightly,
}

var (
	runMaxPerHost  int
	runMaxParallel int
	runPriority    string
	runTags        []string
	runDryRun      bool
	runDispatch    bool
	runJSON        bool
	runReport      string
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&runMaxPerHost, "max-per-host", 0, "Max tasks assigned to one host (default from config)")
	cmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Max tasks assigned in one run (default from config)")
	cmd.Flags().StringVarP(&runPriority, "priority", "p", "", "Only assign tasks of this priority (high, medium, low)")
	cmd.Flags().StringSliceVarP(&runTags, "tag", "t", nil, "Only assign tasks carrying one of these tags")
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Show what would change without writing anything")
	cmd.Flags().BoolVar(&runDispatch, "dispatch", false, "Start assigned tasks on their hosts after saving")
	cmd.Flags().BoolVar(&runJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&runReport, "report", "", "Write the report to this path (default: reports dir, skipped on dry runs)")
}

func init() {
	addRunFlags(nightlyCmd)
	rootCmd.AddCommand(nightlyCmd)
}

// runOptions merges flags over the configured defaults.
func runOptions(cfg *config.Config, entry orchestrator.EntryPoint) orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.EntryPoint = entry
	if cfg.Defaults.MaxTasksPerHost > 0 {
		opts.MaxTasksPerHost = cfg.Defaults.MaxTasksPerHost
	}
	if cfg.Defaults.MaxParallelTasks > 0 {
		opts.MaxParallelTasks = cfg.Defaults.MaxParallelTasks
	}
	if runMaxPerHost != 0 {
		opts.MaxTasksPerHost = runMaxPerHost
	}
	if runMaxParallel != 0 {
		opts.MaxParallelTasks = runMaxParallel
	}
	opts.Priority = runPriority
	opts.Tags = runTags
	opts.DryRun = runDryRun
	opts.Dispatch = runDispatch || cfg.Dispatch.Enabled
	return opts
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runNightly(cmd *cobra.Command, args []string) error {
	ss, err := newSession()
	if err != nil {
		return err
	}
	defer ss.close()

	ctx, cancel := interruptContext()
	defer cancel()

	opts := runOptions(ss.cfg, orchestrator.EntryNightly)
	if !runJSON {
		warnInterrupted(ss.ledger)
	}

	rep, err := ss.orch.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("nightly run: %w", err)
	}

	if err := saveReport(rep, runReport); err != nil {
		printStatus("⚠", err.Error(), color.FgYellow)
	}
	if runJSON {
		data, err := rep.JSON()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	printReport(rep)
	return nil
}

// saveReport writes rep to path, or to the reports dir when path is empty.
// Dry runs are only saved to an explicit path.
func saveReport(rep *orchestrator.Report, path string) error {
	if path == "" {
		if rep.DryRun {
			return nil
		}
		path = filepath.Join(droverPath("reports"), rep.FileName())
	}
	return rep.WriteFile(path)
}
