// Package util provides small shared helpers.
package util

import "strings"

// SplitCSV splits a comma-separated string into trimmed parts, dropping
// empties. Returns nil when nothing remains.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
