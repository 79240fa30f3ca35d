package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Show how each Todo task would be classified",
	Long: `Prints the verdict (background, interactive or skip) and the deciding rule
for every Todo task. Nothing is changed.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

var (
	classifyJSON  bool
	classifyRules bool
)

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print the verdicts as JSON")
	classifyCmd.Flags().BoolVar(&classifyRules, "rules", false, "List the rule table in evaluation order")
	rootCmd.AddCommand(classifyCmd)
}

type classified struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	classify.Result
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, s, err := mustStore()
	if err != nil {
		return err
	}
	c := newClassifier(cfg)

	if classifyRules {
		for i, r := range c.Rules() {
			fmt.Printf("  %2d. %s%-20s%s %s%-12s%s %s\n", i+1, colorBold, r.Name, colorReset,
				verdictColor(r.Verdict), r.Verdict, colorReset, r.Reason)
		}
		return nil
	}

	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}
	todo := snap.ByStatus(store.StatusTodo)
	out := make([]classified, 0, len(todo))
	counts := map[classify.Verdict]int{}
	for _, t := range todo {
		res := c.Classify(t)
		out = append(out, classified{TaskID: t.ID, Name: t.Name, Result: res})
		counts[res.Verdict]++
	}

	if classifyJSON {
		return writeJSON(os.Stdout, out)
	}
	if len(out) == 0 {
		fmt.Printf("%sNo Todo tasks.%s\n", colorDim, colorReset)
		return nil
	}
	for _, r := range out {
		fmt.Printf("  %s%-10s%s %s%-12s%s %-44s %s%s%s\n",
			colorYellow, r.TaskID, colorReset,
			verdictColor(r.Verdict), r.Verdict, colorReset,
			truncate(r.Name, 44),
			colorDim, r.Reason, colorReset)
	}
	fmt.Printf("\n%s%d tasks%s  %s%d background%s  %s%d interactive%s  %s%d skipped%s\n",
		colorBold, len(out), colorReset,
		colorGreen, counts[classify.Background], colorReset,
		colorMagenta, counts[classify.Interactive], colorReset,
		colorDim, counts[classify.Skip], colorReset)
	return nil
}
