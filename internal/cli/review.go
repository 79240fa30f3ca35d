package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List Review tasks and what they are waiting on",
	Long: `Shows every task in Review with its open clarification, and whether the
next batch approval pass would send it back to Todo.

Answer a task with: drover resolve <task-id> "your decision"`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, s, err := mustStore()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}
	c := newClassifier(cfg)

	tasks := snap.ByStatus(store.StatusReview)
	if len(tasks) == 0 {
		fmt.Printf("%sNothing in Review.%s\n", colorDim, colorReset)
		return nil
	}

	waiting := 0
	for _, t := range tasks {
		fmt.Printf("%s%s%s %s%s%s\n", colorYellow, t.ID, colorReset, colorBold, t.Name, colorReset)
		if q, ok := classify.Clarification(t); ok {
			fmt.Printf("    %s? %s%s\n", colorMagenta, q, colorReset)
		}
		if c.WouldBeInteractive(t) {
			waiting++
			res := c.Classify(withStatus(t, store.StatusTodo))
			fmt.Printf("    %swaiting: %s%s\n", colorDim, res.Reason, colorReset)
			fmt.Printf("    → %sdrover resolve %s \"your decision\"%s\n", colorCyan, t.ID, colorReset)
		} else {
			fmt.Printf("    %s✓ next approval pass moves this back to Todo%s\n", colorGreen, colorReset)
		}
		fmt.Println()
	}
	fmt.Printf("%s%d in Review%s, %d waiting on a decision\n", colorBold, len(tasks), colorReset, waiting)
	return nil
}

func withStatus(t store.Task, s store.Status) store.Task {
	t.Status = s
	return t
}
