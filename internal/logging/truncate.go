package logging

import (
	"strconv"
	"strings"
)

// MaxLogFieldLength caps string fields such as upstream response bodies.
const MaxLogFieldLength = 512

// redactVisible is how many leading characters Redact keeps.
const redactVisible = 4

// Truncate shortens s to MaxLogFieldLength characters.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to n bytes and marks the cut with "...".
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TruncateSlice keeps the first maxItems entries and summarises the rest.
func TruncateSlice(items []string, maxItems int) []string {
	if len(items) <= maxItems {
		return items
	}
	out := make([]string, 0, maxItems+1)
	out = append(out, items[:maxItems]...)
	out = append(out, "... and "+strconv.Itoa(len(items)-maxItems)+" more")
	return out
}

// Redact masks a secret-bearing value, keeping a short prefix and the length
// so that two log lines can still be correlated.
func Redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= redactVisible*2 {
		return strings.Repeat("*", len(s))
	}
	return s[:redactVisible] + "***(" + strconv.Itoa(len(s)) + " bytes)"
}
