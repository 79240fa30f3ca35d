package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log [task-id]",
	Short: "Show the audit trail for a task",
	Long:  "Prints a task's status changes and comments in order, followed by what drover runs did to it.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

type logLine struct {
	at   string
	kind string
	text string
}

func runLog(cmd *cobra.Command, args []string) error {
	_, s, err := mustStore()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}

	id := args[0]
	task, ok := snap.Task(id)
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}

	var lines []logLine
	for _, c := range task.Changes {
		lines = append(lines, logLine{c.Timestamp, "change", fmt.Sprintf("%s: %s → %s", c.Field, c.OldValue, c.NewValue)})
	}
	for _, c := range task.Comments {
		lines = append(lines, logLine{c.Created, c.Type, c.Content})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at < lines[j].at })

	fmt.Printf("%s%s%s %s (%s%s%s)\n\n", colorYellow, task.ID, colorReset, task.Name,
		statusColor(task.Status), task.Status, colorReset)
	if len(lines) == 0 {
		fmt.Printf("  %sNo changes recorded.%s\n", colorDim, colorReset)
	}
	for _, l := range lines {
		if l.kind == "change" {
			fmt.Printf("  %s  %s%-8s%s %s\n", l.at, colorBlue, l.kind, colorReset, truncate(l.text, 120))
		} else {
			fmt.Printf("  %s  %-8s %s\n", l.at, l.kind, l.text)
		}
	}

	if l := openHistory(); l != nil {
		defer l.Close()
		events, err := l.TaskEvents(id)
		if err == nil && len(events) > 0 {
			fmt.Printf("\n%sRuns:%s\n", colorBold, colorReset)
			for _, e := range events {
				fmt.Printf("  %s  %s%s%s  %-16s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					colorDim, e.RunID, colorReset, e.Type, e.Content)
			}
		}
	}
	return nil
}
