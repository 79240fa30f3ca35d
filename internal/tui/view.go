package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrBlue      = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	clrMagenta   = lipgloss.AdaptiveColor{Light: "#A21CAF", Dark: "#E879F9"}
	clrCyan      = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	clrWhite     = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#DDDDDD"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

// --- Styles ---
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle   = lipgloss.NewStyle().Foreground(clrDim)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1)

	columnSelectedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(clrHighlight).
				Padding(0, 1)

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrHighlight).
			Padding(1, 2).
			Width(60)

	statusStyle = lipgloss.NewStyle().Foreground(clrGreen).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(clrRed).Bold(true)

	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	footerDescStyle = lipgloss.NewStyle().Foreground(clrSubtle)
)

var columnColors = [numColumns]lipgloss.AdaptiveColor{clrWhite, clrBlue, clrMagenta, clrGreen}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.screen {
	case screenBoard:
		content = m.viewBoard()
	case screenDetail:
		content = m.viewDetail()
	}

	if m.popup != popupNone {
		content = m.overlayPopup(content)
	}
	return content
}

// ════════════════════════════════════════════════
// BOARD VIEW
// ════════════════════════════════════════════════

func (m Model) viewBoard() string {
	var b strings.Builder

	total := 0
	for _, col := range m.columns {
		total += len(col)
	}
	header := titleStyle.Render("drover board")
	header += dimStyle.Render(fmt.Sprintf(" · %d tasks", total))
	if m.warnings > 0 {
		header += errorStyle.Render(fmt.Sprintf("  %d malformed entries skipped", m.warnings))
	}
	b.WriteString(header + "\n\n")

	width := 30
	if m.width > 0 {
		width = m.width/numColumns - 4
		if width < 20 {
			width = 20
		}
	}

	var cols []string
	for i := range m.columns {
		cols = append(cols, m.renderColumn(i, width))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	b.WriteString("\n")

	if m.statusMsg != "" {
		b.WriteString("\n")
		if strings.HasPrefix(strings.ToLower(m.statusMsg), "failed") {
			b.WriteString(errorStyle.Render("  " + m.statusMsg))
		} else {
			b.WriteString(statusStyle.Render("  " + m.statusMsg))
		}
	}

	b.WriteString("\n")
	keys := []struct{ key, desc string }{
		{"↑↓←→", "navigate"},
		{"enter", "open"},
		{"a", "approve"},
		{"r", "resolve"},
		{"R", "refresh"},
		{"q", "quit"},
	}
	b.WriteString(renderFooter(keys))
	return b.String()
}

func (m Model) renderColumn(i, width int) string {
	var b strings.Builder
	cards := m.columns[i]

	label := lipgloss.NewStyle().Bold(true).Foreground(columnColors[i]).Render(columnLabels[i])
	b.WriteString(label + dimStyle.Render(fmt.Sprintf(" (%d)", len(cards))) + "\n")

	// Leave room for the header, footer and borders.
	maxRows := 50
	if m.height > 0 {
		maxRows = (m.height - 8) / 2
		if maxRows < 1 {
			maxRows = 1
		}
	}

	start := 0
	if i == m.cursorCol && m.cursorRow >= maxRows {
		start = m.cursorRow - maxRows + 1
	}
	end := start + maxRows
	if end > len(cards) {
		end = len(cards)
	}

	for row := start; row < end; row++ {
		selected := i == m.cursorCol && row == m.cursorRow
		b.WriteString(renderCard(cards[row], selected, width) + "\n")
	}
	if end < len(cards) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", len(cards)-end)) + "\n")
	}

	style := columnStyle
	if i == m.cursorCol {
		style = columnSelectedStyle
	}
	return style.Width(width).Render(b.String())
}

func renderCard(c card, selected bool, width int) string {
	cursor := "  "
	if selected {
		cursor = lipgloss.NewStyle().Foreground(clrHighlight).Render("▸ ")
	}
	id := lipgloss.NewStyle().Foreground(priorityColor(c.Task.Priority)).Render(c.Task.ID)
	name := truncate(c.Task.Name, width-lipgloss.Width(c.Task.ID)-4)
	if selected {
		name = lipgloss.NewStyle().Bold(true).Render(name)
	}
	line := cursor + id + " " + name

	var detail string
	switch {
	case c.Task.Status.Is(store.StatusReview) && c.Question != "":
		detail = lipgloss.NewStyle().Foreground(clrMagenta).Render("? " + truncate(c.Question, width-6))
	case c.Task.Status.Is(store.StatusReview) && c.Result.Verdict == classify.Background:
		detail = lipgloss.NewStyle().Foreground(clrGreen).Render("✓ ready to approve")
	case c.Result.Verdict != "":
		detail = lipgloss.NewStyle().Foreground(verdictColor(c.Result.Verdict)).Render(string(c.Result.Verdict))
	}
	if detail != "" {
		line += "\n    " + detail
	}
	return line
}

// ════════════════════════════════════════════════
// DETAIL VIEW
// ════════════════════════════════════════════════

func (m Model) viewDetail() string {
	if m.detail == nil {
		return "No task selected"
	}

	var b strings.Builder
	t := m.detail.Task

	b.WriteString(titleStyle.Render(t.ID + " " + t.Name))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render("esc back"))
	b.WriteString("\n\n")

	b.WriteString(m.detailViewport.View())
	b.WriteString("\n\n")

	keys := []struct{ key, desc string }{
		{"↑↓", "scroll"},
		{"a", "approve"},
		{"r", "resolve"},
		{"esc", "back"},
	}
	b.WriteString(renderFooter(keys))
	return b.String()
}

// renderDetail lays out a task's fields, comments and status changes for the
// detail viewport.
func renderDetail(c card) string {
	var b strings.Builder
	t := c.Task
	label := lipgloss.NewStyle().Bold(true)

	b.WriteString(label.Render("Status:   ") + string(t.Status) + "\n")
	if t.Priority != "" {
		b.WriteString(label.Render("Priority: ") +
			lipgloss.NewStyle().Foreground(priorityColor(t.Priority)).Render(t.Priority) + "\n")
	}
	if len(t.Tags) > 0 {
		b.WriteString(label.Render("Tags:     ") + strings.Join(t.Tags, ", ") + "\n")
	}
	if len(t.Dependencies) > 0 {
		b.WriteString(label.Render("Depends:  ") + strings.Join(t.Dependencies, ", ") + "\n")
	}
	if c.Result.Verdict != "" {
		verdict := lipgloss.NewStyle().Foreground(verdictColor(c.Result.Verdict)).Render(string(c.Result.Verdict))
		if c.Result.Reason != "" {
			verdict += dimStyle.Render(" (" + c.Result.Reason + ")")
		}
		b.WriteString(label.Render("Verdict:  ") + verdict + "\n")
	}
	if c.Question != "" {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(clrMagenta).Render("? "+c.Question) + "\n")
	}
	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}

	type entry struct{ at, text string }
	var entries []entry
	for _, ch := range t.Changes {
		entries = append(entries, entry{ch.Timestamp,
			lipgloss.NewStyle().Foreground(clrBlue).Render(ch.Field) + " " + ch.OldValue + " → " + ch.NewValue})
	}
	for _, cm := range t.Comments {
		entries = append(entries, entry{cm.Created, dimStyle.Render(cm.Type) + " " + cm.Content})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at < entries[j].at })

	if len(entries) > 0 {
		b.WriteString("\n" + label.Render("History:") + "\n")
	}
	for _, e := range entries {
		b.WriteString("  " + dimStyle.Render(e.at) + "  " + e.text + "\n")
	}
	return b.String()
}

// ════════════════════════════════════════════════
// POPUPS
// ════════════════════════════════════════════════

func (m Model) overlayPopup(bg string) string {
	var popup string
	switch m.popup {
	case popupResolve:
		popup = m.viewResolvePopup()
	case popupConfirmApprove:
		popup = m.viewConfirmApprovePopup()
	default:
		return bg
	}

	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height,
			lipgloss.Center, lipgloss.Center,
			popup,
			lipgloss.WithWhitespaceChars(" "),
		)
	}
	return popup
}

func (m Model) viewResolvePopup() string {
	var b strings.Builder

	title := lipgloss.NewStyle().Bold(true).Foreground(clrYellow).Render("Resolve " + m.popupTaskID)
	b.WriteString(title + "\n\n")

	if c := m.findCard(m.popupTaskID); c != nil && c.Question != "" {
		q := lipgloss.NewStyle().Foreground(clrMagenta).Render(c.Question)
		b.WriteString(fmt.Sprintf("%s asks:\n%s\n\n", c.Task.ID, q))
	}

	b.WriteString("Your decision:\n")
	b.WriteString(m.textInput.View() + "\n\n")
	b.WriteString(footerDescStyle.Render("enter submit • esc cancel"))

	return m.popupBoxStyle().Render(b.String())
}

func (m Model) viewConfirmApprovePopup() string {
	var b strings.Builder

	title := lipgloss.NewStyle().Bold(true).Foreground(clrGreen).Render("Approve " + m.popupTaskID)
	b.WriteString(title + "\n\n")

	b.WriteString("Move this task from Review back to Todo?\n")
	if c := m.findCard(m.popupTaskID); c != nil && c.Result.Verdict == classify.Interactive {
		b.WriteString(lipgloss.NewStyle().Foreground(clrYellow).
			Render("It still needs a decision, so the next run will send it back to Review.") + "\n")
	}
	b.WriteString("\n")

	b.WriteString(footerKeyStyle.Render("y") + footerDescStyle.Render(" confirm  ") +
		footerKeyStyle.Render("n") + footerDescStyle.Render(" cancel"))

	return m.popupBoxStyle().Render(b.String())
}

func (m Model) popupBoxStyle() lipgloss.Style {
	w := 60
	if m.width > 0 {
		w = m.width - 12
		if w < 42 {
			w = 42
		}
		if w > 84 {
			w = 84
		}
	}
	return popupStyle.Width(w)
}

// ════════════════════════════════════════════════
// SHARED HELPERS
// ════════════════════════════════════════════════

func renderFooter(keys []struct{ key, desc string }) string {
	var parts []string
	for _, k := range keys {
		key := footerKeyStyle.Render(k.key)
		desc := footerDescStyle.Render(k.desc)
		parts = append(parts, key+" "+desc)
	}
	return "  " + strings.Join(parts, "  ")
}

func priorityColor(priority string) lipgloss.AdaptiveColor {
	switch strings.ToLower(priority) {
	case store.PriorityHigh:
		return clrRed
	case store.PriorityMedium:
		return clrYellow
	case store.PriorityLow:
		return clrSubtle
	}
	return clrCyan
}

func verdictColor(v classify.Verdict) lipgloss.AdaptiveColor {
	switch v {
	case classify.Background:
		return clrGreen
	case classify.Interactive:
		return clrMagenta
	}
	return clrDim
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		if maxLen < 0 {
			maxLen = 0
		}
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
