package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/store"
)

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Morning pass: precheck, batch approval, status counts",
	Long: `Checks the working copy, moves Review tasks that no longer need a person
back to Todo, and prints task counts by status. Nothing is assigned.`,
	Args: cobra.NoArgs,
	RunE: runDaily,
}

var (
	dailyDryRun bool
	dailyJSON   bool
)

func init() {
	dailyCmd.Flags().BoolVar(&dailyDryRun, "dry-run", false, "Show what would be approved without writing anything")
	dailyCmd.Flags().BoolVar(&dailyJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(dailyCmd)
}

func runDaily(cmd *cobra.Command, args []string) error {
	ss, err := newSession()
	if err != nil {
		return err
	}
	defer ss.close()

	ctx, cancel := interruptContext()
	defer cancel()

	rep, err := ss.orch.Daily(ctx, dailyDryRun)
	if err != nil {
		return fmt.Errorf("daily run: %w", err)
	}
	if dailyJSON {
		return writeJSON(os.Stdout, rep)
	}

	title := "drover daily " + rep.RunID
	if rep.DryRun {
		title += " (dry run)"
	}
	rows := make([][2]string, 0, len(store.Statuses)+1)
	for _, s := range store.Statuses {
		rows = append(rows, [2]string{string(s), fmt.Sprint(rep.Counts[string(s)])})
	}
	rows = append(rows, [2]string{"batch approved", fmt.Sprint(len(rep.BatchApproved))})
	fmt.Println(summaryTable(title, rows))

	if rep.WorkingCopy != nil {
		printWorkingCopy(*rep.WorkingCopy)
	}
	if len(rep.BatchApproved) > 0 {
		verb := "Approved"
		if rep.DryRun {
			verb = "Would approve"
		}
		fmt.Printf("%s%s:%s %s\n", colorGreen+colorBold, verb, colorReset, strings.Join(rep.BatchApproved, ", "))
	}
	printWarnings(rep.Warnings)
	return nil
}
