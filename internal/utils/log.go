package utils

import "strings"

// TruncateForLog caps s at limit runes for log output, appending an
// ellipsis when something was cut. Screening prompts and responses can run
// to many kilobytes.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
