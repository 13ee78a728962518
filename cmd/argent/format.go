package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// truncateContent shortens s to maxLen runes, appending "..." if truncated.
// Newlines become spaces.
func truncateContent(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen]) + "..."
}

// formatTime renders t in local time, or "-" for the zero value.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

// formatDelta renders a signed trust delta.
func formatDelta(d int) string {
	return fmt.Sprintf("%+d", d)
}
