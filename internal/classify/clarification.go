package classify

import (
	"regexp"
	"strings"

	"github.com/imkarma/drover/internal/store"
)

// ClarificationMarker opens an open question in a task description.
const ClarificationMarker = "Clarification Required:"

// ResolvedMarker replaces ClarificationMarker once a decision is recorded.
const ResolvedMarker = "Clarification Resolved:"

// DecisionPrefix opens the comment that records a decision on a task.
const DecisionPrefix = "**Decision:** "

var (
	clarificationTextRe = regexp.MustCompile(`(?i)Clarification Required:[ \t]*\**[ \t]*(.+?)(?:\n|$)`)
	openMarkerRe        = regexp.MustCompile(`(?i)clarification required:`)
)

const maxClarificationLen = 200

// Clarification extracts the question following a "Clarification Required:"
// marker in the task description.
func Clarification(t store.Task) (string, bool) {
	m := clarificationTextRe.FindStringSubmatch(t.Description)
	if m == nil {
		return "", false
	}
	q := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*"))
	if q == "" {
		return "", false
	}
	if len(q) > maxClarificationLen {
		q = q[:maxClarificationLen] + "..."
	}
	return q, true
}

// NeedsInput reports whether the task text carries a clarification or
// user-input marker.
func NeedsInput(t store.Task) bool {
	text := t.Text()
	return clarificationRe.MatchString(text) || userInputRe.MatchString(text)
}

// MarkResolved rewrites every clarification marker in desc as resolved.
func MarkResolved(desc string) string {
	return openMarkerRe.ReplaceAllString(desc, ResolvedMarker)
}

// Decided reports whether a decision comment is recorded on t and no
// clarification is still open in its text.
func Decided(t store.Task) bool {
	if clarificationRe.MatchString(t.Text()) {
		return false
	}
	for _, c := range t.Comments {
		if strings.HasPrefix(c.Content, DecisionPrefix) {
			return true
		}
	}
	return false
}
