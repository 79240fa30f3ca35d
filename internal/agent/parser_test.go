package agent

import (
	"testing"
)

func TestParseBlocked(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BLOCKED: Which database should I use?", "Which database should I use?"},
		{"Some text\nBLOCKED: Need clarification on API format\nMore text", "Need clarification on API format"},
		{"No blockers here", ""},
		{"blocked: lowercase works too", "lowercase works too"},
	}

	for _, tc := range tests {
		got := ParseBlocked(tc.input)
		if got != tc.expected {
			t.Errorf("ParseBlocked(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		input    string
		max      int
		expected string
	}{
		{"first\nsecond\n\n", 0, "second"},
		{"", 10, ""},
		{"abcdefghij", 4, "abcd..."},
	}
	for _, tc := range tests {
		if got := LastLine(tc.input, tc.max); got != tc.expected {
			t.Errorf("LastLine(%q, %d) = %q, want %q", tc.input, tc.max, got, tc.expected)
		}
	}
}
