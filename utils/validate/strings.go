package validate

import (
	"strings"
)

// IsBlank checks if a string is empty or contains only whitespace
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NonBlank drops the blank values, keeping the order of the others
func NonBlank(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !IsBlank(v) {
			out = append(out, v)
		}
	}
	return out
}
