package cli

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the kanban board",
	RunE:  runBoard,
}

func runBoard(cmd *cobra.Command, args []string) error {
	cfg, s, err := mustStore()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}
	c := newClassifier(cfg)

	if len(snap.Tasks()) == 0 {
		fmt.Printf("%sBoard is empty.%s Add tasks to %s%s%s\n",
			colorDim, colorReset, colorCyan, s.Path(), colorReset)
		return nil
	}

	type col struct {
		status store.Status
		label  string
		color  string
	}
	order := []col{
		{store.StatusTodo, "TODO", colorWhite},
		{store.StatusInProgress, "IN PROGRESS", colorBlue},
		{store.StatusReview, "REVIEW", colorMagenta},
		{store.StatusDone, "DONE", colorGreen},
	}

	// Group tasks by status.
	columns := make(map[store.Status][]store.Task, len(order))
	for _, o := range order {
		columns[o.status] = snap.ByStatus(o.status)
	}

	// Print header.
	colWidth := 30
	headerLine := ""
	sepLine := ""
	for _, o := range order {
		count := len(columns[o.status])
		header := fmt.Sprintf(" %s%s%s (%d)", o.color+colorBold, o.label, colorReset, count)
		visible := fmt.Sprintf(" %s (%d)", o.label, count)
		headerLine += header + pad(visible, colWidth)
		sepLine += strings.Repeat("─", colWidth)
	}
	fmt.Println(headerLine)
	fmt.Println(colorDim + sepLine + colorReset)

	maxRows := 0
	for _, o := range order {
		if len(columns[o.status]) > maxRows {
			maxRows = len(columns[o.status])
		}
	}

	for i := 0; i < maxRows; i++ {
		// Task title line.
		line := ""
		for _, o := range order {
			tasks := columns[o.status]
			if i >= len(tasks) {
				line += strings.Repeat(" ", colWidth)
				continue
			}
			t := tasks[i]
			title := truncate(t.Name, colWidth-runewidth.StringWidth(t.ID)-3)
			card := fmt.Sprintf(" %s%s%s %s", priorityColor(t.Priority), t.ID, colorReset, title)
			line += card + pad(" "+t.ID+" "+title, colWidth)
		}
		fmt.Println(line)

		// Verdict / clarification line.
		detailLine := ""
		for _, o := range order {
			tasks := columns[o.status]
			if i >= len(tasks) {
				detailLine += strings.Repeat(" ", colWidth)
				continue
			}
			detail, visible := cardDetail(c, tasks[i], colWidth)
			detailLine += detail + pad(visible, colWidth)
		}
		fmt.Println(detailLine)
		fmt.Println()
	}

	// Decisions waiting on a person.
	var waiting []store.Task
	for _, t := range columns[store.StatusReview] {
		if c.WouldBeInteractive(t) {
			waiting = append(waiting, t)
		}
	}
	if len(waiting) > 0 {
		fmt.Printf("%s%s⚠  Waiting on a decision%s\n", colorBold, colorMagenta, colorReset)
		for _, t := range waiting {
			q, ok := classify.Clarification(t)
			if !ok {
				q = c.Classify(withStatus(t, store.StatusTodo)).Reason
			}
			fmt.Printf("  %s%s%s: %s\n", colorYellow, t.ID, colorReset, q)
			fmt.Printf("       → %sdrover resolve %s \"your decision\"%s\n", colorCyan, t.ID, colorReset)
		}
		fmt.Println()
	}

	// Summary line.
	fmt.Printf("%s%d tasks%s", colorBold, len(snap.Tasks()), colorReset)
	if n := len(columns[store.StatusDone]); n > 0 {
		fmt.Printf("  %s✓ %d done%s", colorGreen, n, colorReset)
	}
	if n := len(columns[store.StatusInProgress]); n > 0 {
		fmt.Printf("  %s● %d in progress%s", colorBlue, n, colorReset)
	}
	if n := len(waiting); n > 0 {
		fmt.Printf("  %s⚠ %d waiting%s", colorMagenta, n, colorReset)
	}
	if n := len(snap.Warnings()); n > 0 {
		fmt.Printf("  %s✗ %d malformed%s", colorRed, n, colorReset)
	}
	fmt.Println()

	return nil
}

// cardDetail returns the second card line with and without color codes.
func cardDetail(c *classify.Classifier, t store.Task, width int) (string, string) {
	switch {
	case t.Status.Is(store.StatusTodo):
		v := c.Classify(t).Verdict
		visible := "    [" + string(v) + "]"
		return fmt.Sprintf("    %s[%s]%s", verdictColor(v), v, colorReset), visible
	case t.Status.Is(store.StatusReview):
		if q, ok := classify.Clarification(t); ok {
			q = truncate(q, width-7)
			return fmt.Sprintf("    %s? %s%s", colorMagenta, q, colorReset), "    ? " + q
		}
	}
	return "", ""
}

// pad returns the spaces that fill visible text out to width columns.
func pad(visible string, width int) string {
	n := width - runewidth.StringWidth(visible)
	if n < 0 {
		n = 0
	}
	return strings.Repeat(" ", n)
}
