package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Quick status overview",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, s, err := mustStore()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}

	tasks := snap.Tasks()
	if len(tasks) == 0 {
		fmt.Printf("No tasks in %s%s%s\n", colorCyan, s.Path(), colorReset)
		return nil
	}

	counts := snap.Counts()
	fmt.Printf("%sTasks: %d total%s\n", colorBold, len(tasks), colorReset)
	for _, st := range store.Statuses {
		fmt.Printf("  %-14s %s%d%s\n", string(st)+":", statusColor(st), counts[st], colorReset)
	}

	var waiting []store.Task
	for _, t := range snap.ByStatus(store.StatusReview) {
		if classify.NeedsInput(t) {
			waiting = append(waiting, t)
		}
	}
	if len(waiting) > 0 {
		fmt.Printf("\n%s⚠  Waiting on a decision:%s\n", colorMagenta+colorBold, colorReset)
		for _, t := range waiting {
			q, _ := classify.Clarification(t)
			if q == "" {
				q = t.Name
			}
			fmt.Printf("  %s%s%s: %s\n", colorYellow, t.ID, colorReset, truncate(q, 70))
		}
	}

	if l := openHistory(); l != nil {
		defer l.Close()
		if runs, err := l.ListRuns(1); err == nil && len(runs) > 0 {
			r := runs[0]
			fmt.Printf("\n%sLast run:%s %s %s (%s) at %s: %d assigned, %d to review, %d approved\n",
				colorBold, colorReset, r.EntryPoint, r.ID, r.Status,
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Assigned, r.Reviewed, r.Approved)
		}
	}
	if len(snap.Warnings()) > 0 {
		fmt.Printf("\n%s%d malformed entries skipped%s\n", colorRed, len(snap.Warnings()), colorReset)
	}
	return nil
}
