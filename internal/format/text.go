package format

import (
	"strconv"
	"strings"
)

// Truncate shortens s to at most n runes, ending in "..." when cut.
// Newlines are flattened to spaces first.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Mark renders a boolean as a check mark or nothing.
func Mark(v bool) string {
	if v {
		return "✓"
	}
	return ""
}

// OrDash renders empty values as "-".
func OrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Dims renders a width/height pair; zero parts are unknown.
func Dims(w, h int) string {
	if w == 0 && h == 0 {
		return "-"
	}
	part := func(v int) string {
		if v == 0 {
			return "?"
		}
		return strconv.Itoa(v)
	}
	return part(w) + "x" + part(h)
}
