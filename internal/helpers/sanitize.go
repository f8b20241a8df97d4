package helpers

import (
	"strings"
	"unicode/utf8"
)

// SanitizeString replaces characters unsuitable for HAProxy identifiers and
// file names with underscores. Alphanumerics, hyphen and underscore are kept.
func SanitizeString(input string) string {
	if input == "" {
		return ""
	}
	var result strings.Builder
	result.Grow(len(input))

	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}

// SafeIDPrefix shortens long identifiers (commit hashes, container IDs) for display.
func SafeIDPrefix(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Truncate cuts s to at most max bytes, appending an ellipsis when cut.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, max int) string {
	return TruncateWith(s, max, "...")
}

// TruncateWith is Truncate with a custom marker. The result including the
// marker is at most max bytes.
func TruncateWith(s string, max int, marker string) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= len(marker) {
		return s[:runeBoundary(s, max)]
	}
	return s[:runeBoundary(s, max-len(marker))] + marker
}

func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
