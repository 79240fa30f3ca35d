package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs",
	Long:  "Lists recent runs, or the events of one run when a run ID is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var (
	historyLimit int
	historyJSON  bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if _, err := mustConfig(); err != nil {
		return err
	}
	l, err := history.New(droverPath("history.db"))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer l.Close()

	if len(args) == 1 {
		return showRun(l, args[0])
	}

	runs, err := l.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		if runs == nil {
			runs = []history.Run{}
		}
		return writeJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Printf("%sNo runs recorded yet.%s\n", colorDim, colorReset)
		return nil
	}

	for _, r := range runs {
		fmt.Printf("  %s%-10s%s %s%-8s%s %s%-11s%s %s  assigned %-3d review %-3d approved %-3d\n",
			colorYellow, r.ID, colorReset,
			colorCyan, r.EntryPoint, colorReset,
			runStatusColor(r.Status), r.Status, colorReset,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Assigned, r.Reviewed, r.Approved)
	}
	return nil
}

func showRun(l *history.Ledger, id string) error {
	run, err := l.GetRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}
	events, err := l.GetEvents(id)
	if err != nil {
		return err
	}

	if historyJSON {
		if events == nil {
			events = []history.Event{}
		}
		return writeJSON(os.Stdout, struct {
			*history.Run
			Events []history.Event `json:"events"`
		}{run, events})
	}

	fmt.Printf("%sRun %s%s (%s) %s%s%s\n", colorBold, run.ID, colorReset, run.EntryPoint,
		runStatusColor(run.Status), run.Status, colorReset)
	fmt.Printf("  Started:   %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !run.EndedAt.IsZero() {
		fmt.Printf("  Ended:     %s (%s)\n", run.EndedAt.Local().Format("2006-01-02 15:04:05"), run.EndedAt.Sub(run.StartedAt).Round(1e6))
	}
	fmt.Printf("  Settings:  max-per-host=%d max-parallel=%d\n", run.MaxPerHost, run.MaxParallel)
	fmt.Printf("  Counts:    assigned %d, moved to review %d, approved %d, remaining %d\n",
		run.Assigned, run.Reviewed, run.Approved, run.Remaining)
	if run.Error != "" {
		fmt.Printf("  %sError:     %s%s\n", colorRed, run.Error, colorReset)
	}

	if len(events) > 0 {
		fmt.Println()
	}
	for _, e := range events {
		fmt.Printf("  %s  %-16s %s%-10s%s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Type,
			colorYellow, e.TaskID, colorReset, truncate(e.Content, 80))
	}
	return nil
}

func runStatusColor(status string) string {
	switch status {
	case history.RunCompleted:
		return colorGreen
	case history.RunFailed:
		return colorRed
	case history.RunRunning, history.RunInterrupted:
		return colorYellow
	}
	return colorDim
}
