package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/approval"
	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Move tasks between statuses in one batch",
	Long: `Moves every task in --status to --new-status in a single save. By default
that is Review -> Todo from the config.

Example:
  drover approve --clarification-none --tag backend --dry-run`,
	Args: cobra.NoArgs,
	RunE: runApprove,
}

var (
	approveFrom        string
	approveTo          string
	approveNoClarify   bool
	approveInteractive bool
	approveTags        []string
	approveIDs         string
	approveDryRun      bool
	approveComment     string
	approveJSON        bool
)

func init() {
	approveCmd.Flags().StringVar(&approveFrom, "status", "", "Source status (default from config)")
	approveCmd.Flags().StringVar(&approveTo, "new-status", "", "Target status (default from config)")
	approveCmd.Flags().BoolVar(&approveNoClarify, "clarification-none", false, "Skip tasks that still ask for clarification or input")
	approveCmd.Flags().BoolVar(&approveInteractive, "not-interactive", false, "Skip tasks the classifier would send back to Review")
	approveCmd.Flags().StringSliceVarP(&approveTags, "tag", "t", nil, "Only tasks carrying one of these tags")
	approveCmd.Flags().StringVar(&approveIDs, "ids", "", "Comma-separated task ids")
	approveCmd.Flags().BoolVar(&approveDryRun, "dry-run", false, "List the tasks without changing them")
	approveCmd.Flags().StringVarP(&approveComment, "comment", "m", "", "Comment added to each task (default \"batch-approved\")")
	approveCmd.Flags().BoolVar(&approveJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(approveCmd)
}

func parseStatusFlag(flag, value, fallback string) (store.Status, error) {
	if value == "" {
		value = fallback
	}
	s, ok := store.ParseStatus(value)
	if !ok {
		return "", fmt.Errorf("invalid --%s %q (use one of: %s)", flag, value, statusList())
	}
	return s, nil
}

func statusList() string {
	names := make([]string, len(store.Statuses))
	for i, s := range store.Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, s, err := mustStore()
	if err != nil {
		return err
	}
	from, err := parseStatusFlag("status", approveFrom, cfg.Approval.From)
	if err != nil {
		return err
	}
	to, err := parseStatusFlag("new-status", approveTo, cfg.Approval.To)
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}

	pred := approval.Predicate(approval.Any)
	switch {
	case approveInteractive:
		pred = approval.NotInteractive(newClassifier(cfg))
	case approveNoClarify:
		pred = approval.NoClarification
	}
	req := approval.Request{
		From:      from,
		To:        to,
		Predicate: pred,
		Tags:      approveTags,
		IDs:       splitList(approveIDs),
		Comment:   approveComment,
	}

	var res approval.Result
	if approveDryRun {
		res = approval.Result{TaskIDs: approval.Preview(snap, req), From: from, To: to}
	} else {
		res, err = approval.BatchApprove(snap, transition.NewManager(), req)
		if err != nil {
			return err
		}
		if res.Count() > 0 {
			if err := transition.Persist(s, snap); err != nil {
				return err
			}
			recordApproval(res)
		}
	}

	if approveJSON {
		if res.TaskIDs == nil {
			res.TaskIDs = []string{}
		}
		return writeJSON(os.Stdout, res)
	}
	if res.Count() == 0 {
		fmt.Printf("%sNo %s tasks matched.%s\n", colorDim, from, colorReset)
		return nil
	}
	verb := "Moved"
	if approveDryRun {
		verb = "Would move"
	}
	fmt.Printf("%s %d task(s) %s%s → %s%s\n", verb, res.Count(), colorBold, from, to, colorReset)
	for _, id := range res.TaskIDs {
		t, _ := snap.Task(id)
		fmt.Printf("  %s%-10s%s %s\n", colorYellow, id, colorReset, truncate(t.Name, 60))
	}
	return nil
}

// recordApproval adds a manual batch to the run history.
func recordApproval(res approval.Result) {
	l := openHistory()
	if l == nil {
		return
	}
	defer l.Close()

	id := uuid.New().String()[:8]
	err := l.StartRun(id, "approve", 0, 0)
	for _, taskID := range res.TaskIDs {
		if err == nil {
			err = l.AddEvent(id, taskID, "approved", fmt.Sprintf("%s -> %s", res.From, res.To))
		}
	}
	if err == nil {
		err = l.EndRun(history.Run{ID: id, Status: history.RunCompleted, Approved: res.Count()})
	}
	if err != nil {
		printStatus("⚠", "run history: "+err.Error(), color.FgYellow)
	}
}
