package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Reconcile a run that never finished",
	Long: `Cleans up after a run that was cut off by a crash, Ctrl+C, or a reboot.

Without arguments, lists all interrupted runs so you can pick one.
With a run ID:
  1. Shows the tasks the run assigned that are still In Progress
  2. With --requeue, moves those tasks back to Todo for the next run
  3. Marks the run as interrupted`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

var resumeRequeue bool

func init() {
	resumeCmd.Flags().BoolVar(&resumeRequeue, "requeue", false, "Move the run's stuck tasks back to Todo")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	_, s, err := mustStore()
	if err != nil {
		return err
	}
	l, err := history.New(droverPath("history.db"))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer l.Close()

	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return listInterruptedRuns(l, snap)
	}
	return resumeRun(l, s, snap, args[0])
}

// stuckTasks returns the tasks a run assigned that are still In Progress.
func stuckTasks(l *history.Ledger, snap *store.Snapshot, runID string) ([]store.Task, error) {
	events, err := l.GetEvents(runID)
	if err != nil {
		return nil, err
	}
	var out []store.Task
	seen := map[string]bool{}
	for _, e := range events {
		if e.Type != "assigned" || seen[e.TaskID] {
			continue
		}
		seen[e.TaskID] = true
		if t, ok := snap.Task(e.TaskID); ok && t.Status.Is(store.StatusInProgress) {
			out = append(out, t)
		}
	}
	return out, nil
}

func listInterruptedRuns(l *history.Ledger, snap *store.Snapshot) error {
	runs, err := l.ListInterruptedRuns()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Printf("  %s✓ No interrupted runs found.%s\n", colorGreen, colorReset)
		return nil
	}

	fmt.Printf("%s╔══════════════════════════════════════╗%s\n", colorBold, colorReset)
	fmt.Printf("%s║  Interrupted runs                    ║%s\n", colorBold, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════╝%s\n\n", colorBold, colorReset)

	for _, run := range runs {
		age := time.Since(run.StartedAt).Truncate(time.Second)

		fmt.Printf("  %sRun %s%s  %s%s%s\n", colorYellow, run.ID, colorReset, colorCyan, run.EntryPoint, colorReset)
		fmt.Printf("    Started:  %s (%s ago)\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), age)
		fmt.Printf("    Settings: max-per-host=%d max-parallel=%d\n", run.MaxPerHost, run.MaxParallel)

		stuck, err := stuckTasks(l, snap, run.ID)
		if err == nil && len(stuck) > 0 {
			fmt.Printf("    Tasks:    %s%d stuck In Progress%s\n", colorRed, len(stuck), colorReset)
		}
		fmt.Println()
	}

	fmt.Printf("  Reconcile with: %sdrover resume <run-id> [--requeue]%s\n", colorCyan, colorReset)
	return nil
}

func resumeRun(l *history.Ledger, s *store.Store, snap *store.Snapshot, runID string) error {
	target, err := l.GetRun(runID)
	if err != nil {
		return err
	}
	if target == nil || target.Status != history.RunRunning {
		return fmt.Errorf("run %s not found or not in 'running' state (already finished?)", runID)
	}

	fmt.Printf("%s╔══════════════════════════════════════╗%s\n", colorBold, colorReset)
	fmt.Printf("%s║  drover resume — run recovery        ║%s\n", colorBold, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════╝%s\n\n", colorBold, colorReset)

	fmt.Printf("  Run:      %s%s%s (%s)\n", colorYellow, target.ID, colorReset, target.EntryPoint)
	fmt.Printf("  Started:  %s\n", target.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Println()

	// Step 1: Find stuck tasks.
	stuck, err := stuckTasks(l, snap, target.ID)
	if err != nil {
		return err
	}
	for _, t := range stuck {
		fmt.Printf("  %s%-10s%s %s\n", colorYellow, t.ID, colorReset, truncate(t.Name, 60))
	}

	// Step 2: Requeue them.
	switch {
	case len(stuck) == 0:
		fmt.Printf("  %s✓ No stuck tasks%s\n", colorGreen, colorReset)
	case resumeRequeue:
		mgr := transition.NewManager()
		note := &transition.Note{Type: store.CommentNote, Content: "Requeued after interrupted run " + target.ID}
		for _, t := range stuck {
			if _, err := mgr.ApplyTo(snap, t.ID, store.StatusInProgress, store.StatusTodo, note); err != nil {
				return err
			}
		}
		if err := transition.Persist(s, snap); err != nil {
			return err
		}
		fmt.Printf("  %s↺ Moved %d stuck task(s) back to Todo%s\n", colorYellow, len(stuck), colorReset)
	default:
		fmt.Printf("  %sLeaving %d task(s) In Progress. Use --requeue to move them back to Todo.%s\n",
			colorDim, len(stuck), colorReset)
	}

	// Step 3: Mark the run as interrupted.
	target.Status = history.RunInterrupted
	target.Error = "interrupted before it finished"
	if err := l.EndRun(*target); err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	fmt.Printf("\n  %s✓ Marked run %s as interrupted%s\n", colorDim, target.ID, colorReset)
	return nil
}
