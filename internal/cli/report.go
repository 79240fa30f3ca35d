package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/imkarma/drover/internal/git"
	"github.com/imkarma/drover/internal/orchestrator"
)

var (
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	summaryLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(28)
)

func summaryTable(title string, rows [][2]string) string {
	var sb strings.Builder
	sb.WriteString(summaryTitle.Render(title))
	for _, r := range rows {
		sb.WriteString("\n")
		sb.WriteString(summaryLabel.Render(r[0]))
		sb.WriteString(r[1])
	}
	return summaryBox.Render(sb.String())
}

func printReport(rep *orchestrator.Report) {
	title := fmt.Sprintf("drover %s run %s", rep.EntryPoint, rep.RunID)
	if rep.DryRun {
		title += " (dry run)"
	}
	s := rep.Summary
	fmt.Println(summaryTable(title, [][2]string{
		{"background tasks found", fmt.Sprint(s.BackgroundTasksFound)},
		{"interactive tasks found", fmt.Sprint(s.InteractiveTasksFound)},
		{"tasks assigned", fmt.Sprint(s.TasksAssigned)},
		{"moved to review", fmt.Sprint(s.TasksMovedToReview)},
		{"batch approved", fmt.Sprint(s.TasksBatchApproved)},
		{"hosts used", fmt.Sprint(s.HostsUsed)},
		{"background tasks remaining", fmt.Sprint(s.BackgroundTasksRemaining)},
	}))

	if rep.WorkingCopy != nil {
		printWorkingCopy(*rep.WorkingCopy)
	}

	verb := "Assigned"
	if rep.DryRun {
		verb = "Would assign"
	}
	if len(rep.AssignedTasks) > 0 {
		fmt.Printf("\n%s%s:%s\n", colorBold, verb, colorReset)
		for _, a := range rep.AssignedTasks {
			fmt.Printf("  %s%-10s%s %s %s→ %s (%s)%s\n", colorYellow, a.TaskID, colorReset,
				truncate(a.TaskName, 50), colorCyan, a.HostID, a.Hostname, colorReset)
		}
	}
	if len(rep.MovedToReview) > 0 {
		fmt.Printf("\n%sMoved to Review:%s %s\n", colorMagenta+colorBold, colorReset, strings.Join(rep.MovedToReview, ", "))
	}
	if len(rep.BatchApproved) > 0 {
		fmt.Printf("%sBatch approved:%s %s\n", colorGreen+colorBold, colorReset, strings.Join(rep.BatchApproved, ", "))
	}
	for _, d := range rep.Dispatch {
		if d.Failed() {
			printStatus("✗", fmt.Sprintf("%s on %s: %s %s", d.TaskID, d.HostID, d.Status, d.Error), color.FgRed)
		} else {
			printStatus("✓", fmt.Sprintf("%s on %s: %s", d.TaskID, d.HostID, d.Summary), color.FgGreen)
		}
	}
	printWarnings(rep.Warnings)
}

func printWorkingCopy(h git.Health) {
	switch h.Status {
	case git.StatusOK:
		printStatus("✓", h.Summary(), color.FgGreen)
	case git.StatusWarning:
		printStatus("⚠", h.Summary(), color.FgYellow)
	}
}

func printWarnings(warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Println()
	for _, w := range warnings {
		printStatus("⚠", w, color.FgYellow)
	}
}
