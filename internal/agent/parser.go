package agent

import (
	"strings"
)

// ParseBlocked extracts a question from host output.
// Looks for: BLOCKED: <question>
func ParseBlocked(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), "BLOCKED:") {
			return strings.TrimSpace(trimmed[8:])
		}
	}
	return ""
}

// LastLine returns the last non-empty line of output, trimmed to max runes.
func LastLine(output string, max int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		if r := []rune(l); max > 0 && len(r) > max {
			return string(r[:max]) + "..."
		}
		return l
	}
	return ""
}
